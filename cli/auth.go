package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yllada/anonvpn/client"
	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/engine"
	"github.com/yllada/anonvpn/keyring"
)

// prompter reads answers from the user. Secrets are read without echo
// when the input is a terminal.
type prompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	in := cmd.InOrStdin()
	return &prompter{in: in, out: cmd.OutOrStdout(), reader: bufio.NewReader(in)}
}

func (p *prompter) line(label string) (string, error) {
	printf(p.out, "%s: ", label)
	s, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) secret(label string) (string, error) {
	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.line(label)
	}
	printf(p.out, "%s: ", label)
	b, err := term.ReadPassword(int(f.Fd()))
	printf(p.out, "\n")
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (p *prompter) confirm(question string) bool {
	answer, err := p.line(question + " [y/N]")
	if err != nil {
		return false
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// login asks for a username (unless given) and password.
func (p *prompter) login(username string) (string, string, error) {
	var err error
	if username == "" {
		if username, err = p.line("Username"); err != nil {
			return "", "", err
		}
	}
	if username == "" {
		return "", "", errors.New("no username provided")
	}
	password, err := p.secret("Password")
	if err != nil {
		return "", "", err
	}
	if password == "" {
		return "", "", errors.New("no password provided")
	}
	return username, password, nil
}

func (a *app) authenticate(ctx context.Context, username, password string) (client.AuthStatus, error) {
	cl, err := a.openClient()
	if err != nil {
		return 0, err
	}
	rc := client.NewResultChan[client.AuthStatus]()
	cl.Authenticate(ctx, username, password, rc)
	return rc.Wait(ctx)
}

func (a *app) refreshAuth(ctx context.Context) (client.AuthStatus, error) {
	cl, err := a.openClient()
	if err != nil {
		return 0, err
	}
	rc := client.NewResultChan[client.AuthStatus]()
	cl.RefreshAuthToken(ctx, rc)
	return rc.Wait(ctx)
}

func (a *app) listServers(ctx context.Context) ([]string, error) {
	cl, err := a.openClient()
	if err != nil {
		return nil, err
	}
	rc := client.NewResultChan[[]string]()
	cl.GetServers(ctx, rc)
	return rc.Wait(ctx)
}

func (a *app) connect(ctx context.Context, server string) (engine.VpnConnection, error) {
	cl, err := a.openClient()
	if err != nil {
		return engine.VpnConnection{}, err
	}
	rc := client.NewResultChan[engine.VpnConnection]()
	cl.Connect(ctx, server, rc)
	return rc.Wait(ctx)
}

// statusErr turns a non-authenticated status into the matching error.
func statusErr(s client.AuthStatus) error {
	switch s {
	case client.Authenticated:
		return nil
	case client.SubscriptionRequired:
		return common.ErrSubscriptionRequired
	default:
		return common.ErrAuthenticationRequired
	}
}

// withReauth runs fn and, when it reports that authentication is
// required, logs in again with the saved login (or by asking, when p is
// set) and runs fn once more.
func (a *app) withReauth(ctx context.Context, p *prompter, fn func() error) error {
	err := fn()
	if !errors.Is(err, common.ErrAuthenticationRequired) {
		return err
	}
	a.log.Info("Credential rejected, logging in again")
	if err := a.reauthenticate(ctx, p); err != nil {
		return err
	}
	return fn()
}

func (a *app) reauthenticate(ctx context.Context, p *prompter) error {
	prompted := false
	username, password, err := keyring.LoadLogin(a.credentials())
	if err != nil {
		if p == nil {
			a.notifyAuthProblem(common.ErrAuthenticationRequired)
			return fmt.Errorf("%w: no saved login, run \"anonvpn login\"", common.ErrAuthenticationRequired)
		}
		printf(p.out, "Your credential has expired, please log in again.\n")
		if username, password, err = p.login(""); err != nil {
			return err
		}
		prompted = true
	}

	status, err := a.authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	if err := statusErr(status); err != nil {
		a.notifyAuthProblem(err)
		return err
	}
	if prompted && a.cfg.SaveCredentials {
		if err := keyring.SaveLogin(a.credentials(), username, password); err != nil {
			a.log.Warn("Could not save login: %v", err)
		}
	}
	return nil
}

func (a *app) notifyAuthProblem(err error) {
	title, msg := "Login required", "Run \"anonvpn login\" to keep the VPN working."
	if errors.Is(err, common.ErrSubscriptionRequired) {
		title, msg = "Subscription required", "Your account has no active subscription."
	}
	if nerr := a.notifications().Notify(title, msg); nerr != nil {
		a.log.Debug("Notification failed: %v", nerr)
	}
}
