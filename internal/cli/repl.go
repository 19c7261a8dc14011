package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Enroll(ctx context.Context) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) error
	Outfit(ctx context.Context) error
	Ready(ctx context.Context) error
	Unready(ctx context.Context) error
	Friends(ctx context.Context) error
	Leave(ctx context.Context) error
	Join(ctx context.Context, partyID string) error
	Invite(ctx context.Context, accountID string) error
	Kick(ctx context.Context, accountID string) error
	Promote(ctx context.Context, accountID string) error
	Whisper(ctx context.Context, accountID, body string) error
	AddFriend(ctx context.Context, accountID string) error
	RemoveFriend(ctx context.Context, accountID string) error
}

// runREPL starts a simple read-eval-print loop for the partykit CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not logged in:
//	  - help             — show available commands
//	  - enroll           — enroll this device with an exchange code
//	  - login            — authenticate with stored device credentials
//	  - exit | quit      — leave the program
//
//	Logged in:
//	  - help             — show available commands
//	  - status           — show the current party
//	  - outfit           — change the equipped outfit (interactive prompt)
//	  - ready | unready  — toggle lobby readiness
//	  - friends          — list friends
//	  - friend <id>      — send or accept a friend request
//	  - unfriend <id>    — remove a friend
//	  - invite <id>      — invite an account to the party
//	  - whisper <id> <text>  — direct-message a friend
//	  - kick <id>        — remove a member (leader only)
//	  - promote <id>     — hand over leadership (leader only)
//	  - join <party-id>  — switch to another party
//	  - leave            — leave (a fresh solo party is created)
//	  - logout           — log out
//	  - exit | quit      — leave the program
//
// Any errors returned by command handlers are ignored here; handlers should
// log their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("pk> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: status, outfit, ready, unready, friends, friend, unfriend, invite, whisper, kick, promote, join, leave, logout, exit")
			} else {
				printlnFn("Available commands: enroll, login, exit")
			}

		case "enroll":
			_ = a.Enroll(ctx)

		case "login":
			_ = a.Login(ctx)

		case "s", "status":
			_ = a.Status(ctx)

		case "outfit":
			_ = a.Outfit(ctx)

		case "ready":
			_ = a.Ready(ctx)

		case "unready":
			_ = a.Unready(ctx)

		case "friends":
			_ = a.Friends(ctx)

		case "friend":
			if len(args) == 0 {
				printlnFn("Usage: friend <account-id>")
				continue
			}
			_ = a.AddFriend(ctx, args[0])

		case "unfriend":
			if len(args) == 0 {
				printlnFn("Usage: unfriend <account-id>")
				continue
			}
			_ = a.RemoveFriend(ctx, args[0])

		case "invite":
			if len(args) == 0 {
				printlnFn("Usage: invite <account-id>")
				continue
			}
			_ = a.Invite(ctx, args[0])

		case "whisper":
			if len(args) < 2 {
				printlnFn("Usage: whisper <account-id> <message>")
				continue
			}
			_ = a.Whisper(ctx, args[0], strings.Join(args[1:], " "))

		case "kick":
			if len(args) == 0 {
				printlnFn("Usage: kick <account-id>")
				continue
			}
			_ = a.Kick(ctx, args[0])

		case "promote":
			if len(args) == 0 {
				printlnFn("Usage: promote <account-id>")
				continue
			}
			_ = a.Promote(ctx, args[0])

		case "join":
			if len(args) == 0 {
				printlnFn("Usage: join <party-id>")
				continue
			}
			_ = a.Join(ctx, args[0])

		case "leave":
			_ = a.Leave(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
