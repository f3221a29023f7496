package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eishaa-e/flowboard/client"
	"github.com/eishaa-e/flowboard/domain"
)

var (
	configPath string
	serverURL  string
	timeout    time.Duration
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "boardctl",
	Short: "boardctl - drive flowboard task boards from the terminal",
	Long: `boardctl talks to a flowboard server. It lists workspaces, boards and
tasks, and moves tasks between lanes through the same drag reconciliation
engine the board UI uses: every move is sent as one atomic reorder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceErrors:      true,
	SilenceUsage:       true,
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		hint := ""
		if errors.Is(err, domain.ErrUnauthorized) {
			hint = "Run 'boardctl login' to start a new session."
		}
		printError(rootCmd.ErrOrStderr(), err, hint)
	}
	return err
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/boardctl/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Server URL (overrides the config file)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for each command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine diagnostics to stderr")
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return DefaultConfigPath()
}

func loadConfig() (Config, string, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return Config{}, "", err
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, "", err
	}
	if serverURL != "" {
		cfg.Server = serverURL
	}
	return cfg, path, nil
}

// session returns a client carrying the saved token.
func session() (*client.Client, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("not logged in: %w", domain.ErrUnauthorized)
	}
	return client.New(cfg.Server, cfg.Token), nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func engineLogger(w io.Writer) *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	if verbose {
		logger.SetOutput(w)
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}
