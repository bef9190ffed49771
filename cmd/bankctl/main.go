package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/internal/store"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
)

const (
	flagAPIURL          = "api-url"
	flagAPITimeout      = "api-timeout"
	flagCredentialStore = "credential-store"
	flagLocale          = "locale"
	flagVerbose         = "verbose"
	envPrefix           = "BANKPORTAL"
	defaultAPITimeout   = 10 * time.Second
	defaultLocale       = "pl-PL"
	configDirName       = "bankportal"
	credentialsFileName = "credentials.db"
)

type runtimeConfig struct {
	APIBaseURL         string
	APITimeout         time.Duration
	CredentialStoreURL string
	Locale             language.Tag
	Verbose            bool
}

// app is what every subcommand works with once the root command has loaded
// config. Storage and the session store are opened lazily by the commands
// that need them.
type app struct {
	cfg     runtimeConfig
	logger  *zap.Logger
	backend store.Backend
	slot    session.CredentialSlot
	client  *bankapi.Client
	session *session.Store
}

func main() {
	rootCmd := newRootCommand()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bankctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	state := &app{}
	cmd := &cobra.Command{
		Use:           "bankctl",
		Short:         "Terminal client for the bank API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &state.cfg); err != nil {
				return err
			}
			logger, err := newLogger(state.cfg.Verbose)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			state.logger = logger
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return state.close()
		},
	}

	cmd.PersistentFlags().String(flagAPIURL, "", "bank API base URL (default http://localhost:5000)")
	cmd.PersistentFlags().Duration(flagAPITimeout, 0, "timeout for each bank API call (default 10s)")
	cmd.PersistentFlags().String(flagCredentialStore, "", "credential storage (default sqlite in the user config dir)")
	cmd.PersistentFlags().String(flagLocale, "", "BCP 47 locale for money formatting (default pl-PL)")
	cmd.PersistentFlags().Bool(flagVerbose, false, "log API traffic to stderr")

	cmd.AddCommand(
		newLoginCommand(state),
		newRegisterCommand(state),
		newLogoutCommand(state),
		newWhoAmICommand(state),
		newBalanceCommand(state),
		newProfileCommand(state),
		newCustomersCommand(state),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagAPIURL, flagAPITimeout, flagCredentialStore, flagLocale, flagVerbose} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.APIBaseURL = strings.TrimSpace(v.GetString(flagAPIURL))
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = bankapi.DefaultBaseURL
	}
	cfg.APITimeout = v.GetDuration(flagAPITimeout)
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = defaultAPITimeout
	}
	cfg.CredentialStoreURL = strings.TrimSpace(v.GetString(flagCredentialStore))
	if cfg.CredentialStoreURL == "" {
		defaultStore, err := defaultCredentialStore()
		if err != nil {
			return err
		}
		cfg.CredentialStoreURL = defaultStore
	}
	locale := strings.TrimSpace(v.GetString(flagLocale))
	if locale == "" {
		locale = defaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return fmt.Errorf("locale %q: %w", locale, err)
	}
	cfg.Locale = tag
	cfg.Verbose = v.GetBool(flagVerbose)
	return nil
}

func defaultCredentialStore() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return "sqlite://" + filepath.Join(configDir, configDirName, credentialsFileName), nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// connect opens the storage and builds the client and a session store that
// has not been checked against the API yet.
func (state *app) connect(ctx context.Context) error {
	if state.session != nil {
		return nil
	}
	backend, _, err := store.Open(ctx, state.cfg.CredentialStoreURL, store.Options{})
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	state.backend = backend

	slot, err := session.NewCredentialSlot(backend, session.DefaultCredentialKey)
	if err != nil {
		return err
	}
	state.slot = slot
	client, err := bankapi.NewClient(state.cfg.APIBaseURL,
		bankapi.WithCredentialSource(slot),
		bankapi.WithLogger(state.logger),
	)
	if err != nil {
		return err
	}
	state.client = client

	sessionStore, err := session.New(client, slot,
		session.WithLogger(state.logger),
		session.WithOperationLogger(session.NewZapOperationLogger(state.logger)),
	)
	if err != nil {
		return err
	}
	state.session = sessionStore
	return nil
}

// restore connects and validates the stored credential, for commands that
// act as the logged-in user.
func (state *app) restore(ctx context.Context) error {
	if err := state.connect(ctx); err != nil {
		return err
	}
	restoreCtx, cancel := state.remoteContext(ctx)
	defer cancel()
	return state.session.Restore(restoreCtx)
}

func (state *app) close() error {
	if state.logger != nil {
		_ = state.logger.Sync()
	}
	if state.backend == nil {
		return nil
	}
	return state.backend.Close()
}

func (state *app) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, state.cfg.APITimeout)
}
