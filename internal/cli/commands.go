package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/ddezhin/partykit/internal/party"
)

var errNotLoggedIn = fmt.Errorf("cli: not logged in")

func (a *App) requireEngine() error {
	if !a.isLoggedIn() {
		fmt.Fprintln(a.out, "Not logged in; run 'login' first")
		return errNotLoggedIn
	}
	return nil
}

// Status prints the current party: id, revision, and one line per member.
func (a *App) Status(ctx context.Context) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	p := a.engine.Party()
	if p == nil {
		fmt.Fprintln(a.out, "No party")
		return nil
	}

	type memberLine struct {
		name, role, outfit string
		readiness          party.Readiness
	}
	var (
		id       string
		revision uint64
		lines    []memberLine
	)
	err := p.WithLock(ctx, func() error {
		id = p.ID()
		revision = p.Revision()
		for _, m := range p.Members() {
			lines = append(lines, memberLine{
				name:      m.DisplayName,
				role:      m.Role,
				outfit:    m.Outfit(),
				readiness: m.Readiness(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Party %s (revision %d, %d members)\n", id, revision, len(lines))
	for _, l := range lines {
		marker := " "
		if l.role == party.RoleCaptain {
			marker = "*"
		}
		outfit := l.outfit
		if outfit == "" {
			outfit = "-"
		}
		fmt.Fprintf(a.out, " %s %-20s outfit=%s %s\n", marker, l.name, outfit, l.readiness)
	}
	return nil
}

// Outfit prompts for an outfit asset path and replicates it.
func (a *App) Outfit(ctx context.Context) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	asset, err := GetSimpleText(a.reader, "Outfit asset path (package'/path/Name.Name')", a.out)
	if err != nil {
		return err
	}
	if err := a.engine.Party().SetCosmeticLoadout(ctx, party.CosmeticLoadout{Character: asset}); err != nil {
		fmt.Fprintf(a.out, "Outfit change failed: %s\n", err)
		return err
	}
	fmt.Fprintln(a.out, "Outfit updated")
	return nil
}

// Ready marks the local member ready.
func (a *App) Ready(ctx context.Context) error {
	return a.setReadiness(ctx, party.Ready)
}

// Unready marks the local member not ready.
func (a *App) Unready(ctx context.Context) error {
	return a.setReadiness(ctx, party.NotReady)
}

func (a *App) setReadiness(ctx context.Context, r party.Readiness) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	if err := a.engine.Party().SetReadiness(ctx, r); err != nil {
		fmt.Fprintf(a.out, "Readiness change failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Now %s\n", strings.ToLower(string(r)))
	return nil
}

// Friends lists the cached friends summary.
func (a *App) Friends(ctx context.Context) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	friends := a.engine.Friends()
	if len(friends) == 0 {
		fmt.Fprintln(a.out, "No friends cached")
		return nil
	}
	for _, f := range friends {
		name := f.DisplayName
		if f.Alias != "" {
			name = fmt.Sprintf("%s (%s)", name, f.Alias)
		}
		fmt.Fprintf(a.out, " %s  %s\n", f.AccountID, name)
	}
	return nil
}

// AddFriend sends (or accepts) a friend request, then waits briefly for the
// push channel to confirm the friendship. Not confirming in time is normal;
// the other side may simply not have answered yet.
func (a *App) AddFriend(ctx context.Context, accountID string) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	if err := a.engine.AddFriend(ctx, accountID); err != nil {
		fmt.Fprintf(a.out, "Friend request failed: %s\n", err)
		return err
	}
	if f, ok := a.engine.WaitForFriend(ctx, accountID); ok {
		fmt.Fprintf(a.out, "Now friends with %s\n", f.Name())
	} else {
		fmt.Fprintf(a.out, "Request sent to %s\n", accountID)
	}
	return nil
}

// RemoveFriend removes an account from the friends list.
func (a *App) RemoveFriend(ctx context.Context, accountID string) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	if err := a.engine.RemoveFriend(ctx, accountID); err != nil {
		fmt.Fprintf(a.out, "Unfriend failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Removed %s\n", accountID)
	return nil
}

// Invite invites an account into the current party. Friends go through their
// role; anyone else is invited by raw account id.
func (a *App) Invite(ctx context.Context, accountID string) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	var err error
	if f, ok := a.engine.Friend(accountID); ok {
		err = f.Invite(ctx)
	} else {
		err = a.engine.Invite(ctx, accountID)
	}
	if err != nil {
		fmt.Fprintf(a.out, "Invite failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Invited %s\n", accountID)
	return nil
}

// Whisper sends a direct message to a friend.
func (a *App) Whisper(ctx context.Context, accountID, body string) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	f, ok := a.engine.Friend(accountID)
	if !ok {
		fmt.Fprintf(a.out, "%s is not a friend\n", accountID)
		return nil
	}
	if err := f.SendMessage(ctx, body); err != nil {
		fmt.Fprintf(a.out, "Whisper failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Whispered to %s\n", f.Name())
	return nil
}

// Kick removes a member. Leader only.
func (a *App) Kick(ctx context.Context, accountID string) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	if err := a.engine.Kick(ctx, accountID); err != nil {
		fmt.Fprintf(a.out, "Kick failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Kicked %s\n", accountID)
	return nil
}

// Promote hands leadership to another member. Leader only.
func (a *App) Promote(ctx context.Context, accountID string) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	if err := a.engine.Promote(ctx, accountID); err != nil {
		fmt.Fprintf(a.out, "Promote failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Promoted %s\n", accountID)
	return nil
}

// Join switches to another party.
func (a *App) Join(ctx context.Context, partyID string) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	if err := a.engine.Join(ctx, partyID); err != nil {
		fmt.Fprintf(a.out, "Join failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Joined party %s\n", partyID)
	return nil
}

// Leave exits the current party; a fresh solo party takes its place.
func (a *App) Leave(ctx context.Context) error {
	if err := a.requireEngine(); err != nil {
		return err
	}
	if err := a.engine.Leave(ctx); err != nil {
		fmt.Fprintf(a.out, "Leave failed: %s\n", err)
		return err
	}
	fmt.Fprintf(a.out, "Left; new party %s\n", a.engine.Party().ID())
	return nil
}
