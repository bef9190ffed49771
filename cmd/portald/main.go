package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/bankportal/internal/portal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr        = "listen-addr"
	flagAPIURL            = "api-url"
	flagAPITimeout        = "api-timeout"
	flagCredentialStore   = "credential-store"
	flagCredentialTTL     = "credential-ttl"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"
	flagSessionTTL        = "session-ttl"
	flagSecureCookies     = "secure-cookies"
	flagLocale            = "locale"
	envPrefix             = "BANKPORTAL"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "portald: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := portal.Config{}
	cmd := &cobra.Command{
		Use:           "portald",
		Short:         "Browser-facing portal for the bank API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return portal.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (default :8080)")
	cmd.Flags().String(flagAPIURL, "", "bank API base URL (default http://localhost:5000)")
	cmd.Flags().Duration(flagAPITimeout, 0, "timeout for each bank API call (default 10s)")
	cmd.Flags().String(flagCredentialStore, "", "credential storage: memory://, redis://, postgres://, sqlite://path (default memory://)")
	cmd.Flags().Duration(flagCredentialTTL, 0, "expiry for opaque credentials kept in Redis")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "HS256 key for the browser-session cookie (required, 32+ bytes)")
	cmd.Flags().String(flagSessionIssuer, "", "issuer claim of the browser-session cookie")
	cmd.Flags().String(flagSessionCookie, "", "browser-session cookie name")
	cmd.Flags().Duration(flagSessionTTL, 0, "browser-session lifetime (default 24h)")
	cmd.Flags().Bool(flagSecureCookies, false, "mark the session cookie Secure")
	cmd.Flags().String(flagLocale, "", "BCP 47 locale for money formatting (default pl-PL)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *portal.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagAPIURL, flagAPITimeout, flagCredentialStore, flagCredentialTTL, flagAllowedOrigins, flagSessionSigningKey, flagSessionIssuer, flagSessionCookie, flagSessionTTL, flagSecureCookies, flagLocale} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	if !v.IsSet(flagSessionSigningKey) {
		return fmt.Errorf("%s is required", flagSessionSigningKey)
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.APIBaseURL = strings.TrimSpace(v.GetString(flagAPIURL))
	cfg.APITimeout = v.GetDuration(flagAPITimeout)
	cfg.CredentialStoreURL = strings.TrimSpace(v.GetString(flagCredentialStore))
	cfg.CredentialTTL = v.GetDuration(flagCredentialTTL)
	cfg.AllowedOrigins = portal.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagSessionCookie))
	cfg.SessionTTL = v.GetDuration(flagSessionTTL)
	cfg.SecureCookies = v.GetBool(flagSecureCookies)
	cfg.Locale = strings.TrimSpace(v.GetString(flagLocale))

	return cfg.Validate()
}
