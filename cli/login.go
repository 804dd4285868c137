package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yllada/anonvpn/client"
	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/keyring"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		username string
		save     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and obtain a credential",
		Long: `Log in with your account. The password is read without echo and is only
sent to the credential engine.

With --save the login is kept in the system keyring (or an encrypted file when
no keyring is available) so that an expired credential can be renewed while
the tunnel runs unattended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("save") {
				save = a.cfg.SaveCredentials
			}
			p := newPrompter(cmd)
			user, password, err := p.login(username)
			if err != nil {
				return err
			}

			status, err := a.authenticate(cmd.Context(), user, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch status {
			case client.Authenticated:
				printf(out, "Logged in as %s.\n", user)
				if save {
					if err := keyring.SaveLogin(a.credentials(), user, password); err != nil {
						return fmt.Errorf("failed to save login: %w", err)
					}
					printf(out, "Login saved.\n")
				}
				return nil
			case client.SubscriptionRequired:
				return fmt.Errorf("%w: the account has no active subscription", common.ErrSubscriptionRequired)
			default:
				return fmt.Errorf("%w: login rejected", common.ErrAuthenticationRequired)
			}
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account username (prompted when empty)")
	cmd.Flags().BoolVar(&save, "save", false, "save the login for unattended renewal (default from config)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := a.credentials()
			if _, _, err := keyring.LoadLogin(creds); errors.Is(err, common.ErrCredentialsNotFound) {
				printf(cmd.OutOrStdout(), "No saved login.\n")
				return nil
			}
			if err := keyring.DeleteLogin(creds); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Saved login removed.\n")
			return nil
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the credential now",
		Long: `Renew the stored credential without asking for the password. When the
engine requires a new login, the saved login is used, or you are asked for it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			err := a.withReauth(ctx, newPrompter(cmd), func() error {
				status, err := a.refreshAuth(ctx)
				if err != nil {
					return err
				}
				return statusErr(status)
			})
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Credential refreshed.\n")
			return nil
		},
	}
}
