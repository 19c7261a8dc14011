// Package cli is the interactive demo shell over the engine: device
// enrollment, login from sealed credentials, and party commands in a REPL.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ddezhin/partykit/internal/auth"
	"github.com/ddezhin/partykit/internal/backend"
	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/config"
	"github.com/ddezhin/partykit/internal/credstore"
	"github.com/ddezhin/partykit/internal/engine"
	"github.com/ddezhin/partykit/internal/logging"
	"github.com/ddezhin/partykit/internal/push"
)

// App ties the CLI front end to the engine: one login session at a time,
// created on login and torn down on logout.
type App struct {
	config *config.Config
	log    logging.Logger

	db     *sql.DB
	store  *credstore.Store
	client *backend.Client

	sessions *auth.Set
	engine   *engine.Engine

	accountID   string
	displayName string

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the credential store and builds the backend client. No network
// traffic happens until login.
func NewApp(c *config.Config, log logging.Logger) (*App, error) {
	ctx := context.Background()

	db, err := credstore.InitDatabase(ctx, c.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("cli: open credential store: %w", err)
	}

	client, err := backend.NewClient(backend.Config{BaseURL: c.BackendURL, Logger: log})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{
		config: c,
		log:    log,
		db:     db,
		store:  credstore.NewStore(credstore.NewSQLiteRepository(db)),
		client: client,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

// Run drives the REPL until the user exits or stdin closes.
func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "partykit CLI (type 'help' for commands)")
	defer a.teardown(ctx)

	_ = a.Login(ctx)
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}

func (a *App) isLoggedIn() bool {
	return a.engine != nil
}

func (a *App) getStatus() string {
	if a.displayName == "" {
		return ""
	}
	return fmt.Sprintf("(%s)", a.displayName)
}

// Enroll exchanges a one-time code for a token, mints a device credential,
// and seals it in the local store under a passphrase.
func (a *App) Enroll(ctx context.Context) error {
	code, err := GetSimpleText(a.reader, "Enter exchange code", a.out)
	if err != nil {
		return err
	}

	tr, err := a.client.GrantToken(ctx, a.config.ClientID, a.config.ClientSecret, backend.ExchangeCodeGrant(code))
	if err != nil {
		fmt.Fprintf(a.out, "Code exchange failed: %s\n", err)
		return err
	}

	da, err := a.client.CreateDeviceAuth(ctx, tr.AccountID, tr.AccessToken)
	if err != nil {
		fmt.Fprintf(a.out, "Device enrollment failed: %s\n", err)
		return err
	}

	displayName, err := GetSimpleText(a.reader, "Display name", a.out)
	if err != nil {
		return err
	}
	passphrase, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(passphrase)

	creds := credstore.DeviceAuth{AccountID: da.AccountID, DeviceID: da.DeviceID, Secret: da.Secret}
	if err := a.store.Save(ctx, passphrase, creds, displayName); err != nil {
		fmt.Fprintf(a.out, "Storing credentials failed: %s\n", err)
		return err
	}

	fmt.Fprintf(a.out, "Device enrolled for account %s\n", da.AccountID)
	return a.startSession(ctx, &creds, displayName)
}

// Login unseals stored device credentials and starts the engine.
func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		fmt.Fprintf(a.out, "Already logged in as %s\n", a.displayName)
		return nil
	}

	accounts, err := a.store.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(a.out, "No enrolled accounts; run 'enroll' first")
		return nil
	}

	accountID, err := GetSimpleText(a.reader, fmt.Sprintf("Account id (default %s)", accounts[0].AccountID), a.out)
	if err != nil {
		return err
	}
	if accountID == "" {
		accountID = accounts[0].AccountID
	}
	displayName := accountID
	for _, acc := range accounts {
		if acc.AccountID == accountID {
			displayName = acc.DisplayName
		}
	}

	passphrase, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(passphrase)

	creds, err := a.store.Load(ctx, passphrase, accountID)
	if err != nil {
		if errors.Is(err, credstore.ErrPassphraseMismatch) {
			fmt.Fprintln(a.out, "Wrong passphrase")
		} else {
			fmt.Fprintf(a.out, "Loading credentials failed: %s\n", err)
		}
		return err
	}

	return a.startSession(ctx, creds, displayName)
}

func (a *App) startSession(ctx context.Context, creds *credstore.DeviceAuth, displayName string) error {
	sessions := auth.NewSet(a.client, a.log, a.authLost)
	grant := backend.DeviceAuthGrant(creds.AccountID, creds.DeviceID, creds.Secret)
	basic := auth.Credentials{ClientID: a.config.ClientID, ClientSecret: a.config.ClientSecret}
	if _, err := sessions.Create(ctx, auth.SessionGame, basic, grant); err != nil {
		fmt.Fprintf(a.out, "Login failed: %s\n", err)
		return err
	}
	a.client.SetAuthenticator(sessions)

	eng := engine.New(engine.Options{
		API:         a.client,
		Logger:      a.log,
		AccountID:   creds.AccountID,
		DisplayName: displayName,
		AutoConfirm: a.config.AutoConfirm,
		WaitTimeout: a.config.WaitTimeout,
		OnFatal:     a.transportLost,
	})

	presence := push.NewSocket(push.Options{
		Role:              push.RolePresence,
		URL:               a.config.PresenceURL,
		Tokens:            sessions,
		Logger:            a.log,
		ReconnectAttempts: a.config.ReconnectAttempts,
		ReconnectDelay:    a.config.ReconnectDelay,
	})
	queue := push.NewSocket(push.Options{
		Role:              push.RoleQueue,
		URL:               a.config.QueueURL,
		Tokens:            sessions,
		Logger:            a.log,
		ReconnectAttempts: a.config.ReconnectAttempts,
		ReconnectDelay:    a.config.ReconnectDelay,
	})

	if err := eng.Start(ctx, presence, queue); err != nil {
		fmt.Fprintf(a.out, "Starting engine failed: %s\n", err)
		sessions.Close(ctx)
		return err
	}

	a.sessions = sessions
	a.engine = eng
	a.accountID = creds.AccountID
	a.displayName = displayName
	fmt.Fprintf(a.out, "Logged in as %s, party %s\n", displayName, eng.Party().ID())
	return nil
}

// Logout tears the session down: engine, transports, and tokens.
func (a *App) Logout(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}
	a.teardown(ctx)
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) teardown(ctx context.Context) {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	if a.sessions != nil {
		a.sessions.Close(ctx)
		a.sessions = nil
	}
	a.accountID = ""
	a.displayName = ""
}

// Close releases resources held across logins.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
	a.client.CloseIdleConnections()
}

func (a *App) authLost(err error) {
	fmt.Fprintf(a.out, "Authentication lost (%s); run 'logout' and 'login' again\n", err)
}

func (a *App) transportLost(err error) {
	fmt.Fprintf(a.out, "Push channel terminated (%s); party updates are stale until re-login\n", err)
}
