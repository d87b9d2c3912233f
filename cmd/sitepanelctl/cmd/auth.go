package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to sitepanel",
	Long: `Signs in with email and password. The password is read from
--password, the SITEPANEL_PASSWORD environment variable, or an
interactive prompt. The session is stored in ~/.sitepanel/credentials.json.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e := mustEnv(cmd.Context())

		email := strings.TrimSpace(loginEmail)
		if email == "" {
			v, err := pterm.DefaultInteractiveTextInput.Show("Email")
			if err != nil {
				return err
			}
			email = strings.TrimSpace(v)
		}

		password := loginPassword
		if password == "" {
			password = os.Getenv("SITEPANEL_PASSWORD")
		}
		if password == "" {
			v, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
			if err != nil {
				return err
			}
			password = v
		}

		if err := e.console.Login(cmd.Context(), email, password); err != nil {
			return consoleError(e.console, err)
		}

		role := e.console.Role()
		if role == "" {
			role = "-"
		}
		pterm.Success.Printf("Signed in as %s (role: %s)\n", e.console.Session().Email, role)
		if !e.console.IsAdmin() {
			pterm.Warning.Println("Your account has no admin role: admin commands will be refused.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e := mustEnv(cmd.Context())
		e.console.CheckAuth(cmd.Context())
		if e.console.Session() == nil {
			pterm.Info.Println("Not signed in.")
			return nil
		}

		e.console.Logout(cmd.Context())
		pterm.Success.Println("Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Display the current session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e := mustEnv(cmd.Context())
		e.console.CheckAuth(cmd.Context())

		sess := e.console.Session()
		if sess == nil {
			return errNotLoggedIn
		}

		role := e.console.Role()
		if role == "" {
			role = "-"
		}

		pterm.DefaultSection.Println("Session")
		pterm.Info.Printf("User ID: %s\n", sess.UserID)
		pterm.Info.Printf("Email:   %s\n", sess.Email)
		pterm.Info.Printf("Role:    %s\n", role)
		if sess.Token != nil && !sess.Token.Expiry.IsZero() {
			pterm.Info.Printf("Token expires at: %s\n", sess.Token.Expiry.Format(time.RFC1123))
		}
		if msg := e.console.ErrorMessage(); msg != "" {
			return fmt.Errorf("failed to load panel data: %w", errors.New(msg))
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when empty)")
}
