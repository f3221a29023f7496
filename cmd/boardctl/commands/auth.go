package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eishaa-e/flowboard/client"
)

var (
	authName     string
	authEmail    string
	authPassword string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		u, err := client.New(cfg.Server, "").Signup(ctx, authName, authEmail, password())
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Created account %s (%s)", u.Email, u.ID)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the session token",
	Long: `Log in and save the session token to the config file.

The password is read from --password or the BOARDCTL_PASSWORD environment
variable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c := client.New(cfg.Server, "")
		u, err := c.Login(ctx, authEmail, password())
		if err != nil {
			return err
		}
		cfg.Token, cfg.Email = c.Token, u.Email
		if err := SaveConfig(path, cfg); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Logged in as %s", u.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Token, cfg.Email = "", ""
		if err := SaveConfig(path, cfg); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		u, err := c.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", u.Name, u.Email)
		return nil
	},
}

func password() string {
	if authPassword != "" {
		return authPassword
	}
	return os.Getenv("BOARDCTL_PASSWORD")
}

func init() {
	signupCmd.Flags().StringVar(&authName, "name", "", "Display name")
	for _, c := range []*cobra.Command{signupCmd, loginCmd} {
		c.Flags().StringVarP(&authEmail, "email", "e", "", "Account email")
		c.Flags().StringVarP(&authPassword, "password", "p", "", "Account password")
		_ = c.MarkFlagRequired("email")
	}
	_ = signupCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd)
}
