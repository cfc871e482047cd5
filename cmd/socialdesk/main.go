package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/socialdesk/internal/auth"
	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/config"
	"github.com/memohai/socialdesk/internal/credentials"
	"github.com/memohai/socialdesk/internal/db"
	dbsqlc "github.com/memohai/socialdesk/internal/db/sqlc"
	"github.com/memohai/socialdesk/internal/logger"
	"github.com/memohai/socialdesk/internal/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "socialdesk",
		Short:         "Unified inbox for Messenger and WhatsApp business conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default: $CONFIG_PATH or ./config.toml)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(credentialsCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag, then CONFIG_PATH, then the default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return config.DefaultConfigPath
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, REST and realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return db.MigrateUp(logger.L, cfg.Postgres.DSN())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default one step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid steps %q: %w", args[0], err)
				}
				steps = n
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return db.MigrateDown(logger.L, cfg.Postgres.DSN(), steps)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			v, dirty, err := db.SchemaVersion(cfg.Postgres.DSN())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%v\n", v, dirty)
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var expiresIn time.Duration
	cmd := &cobra.Command{
		Use:   "token <account-id>",
		Short: "Mint an operator JWT for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if expiresIn <= 0 {
				expiresIn, err = time.ParseDuration(cfg.Auth.JWTExpiresIn)
				if err != nil {
					return fmt.Errorf("invalid jwt_expires_in: %w", err)
				}
			}
			token, expiresAt, err := auth.GenerateToken(args[0], cfg.Auth.JWTSecret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "token lifetime (default: auth.jwt_expires_in)")
	return cmd
}

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage platform integrations",
	}
	var in credentials.UpsertInput
	var platform string
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or reconnect an account's platform integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := channel.ParsePlatform(platform)
			if err != nil {
				return err
			}
			in.Platform = p
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := db.Open(ctx, cfg.Postgres)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()
			cred, err := credentials.NewService(logger.L, dbsqlc.New(pool)).Upsert(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential %s: %s routing_id=%s connected=%v\n", cred.ID, cred.Platform, cred.RoutingID, cred.Connected)
			return nil
		},
	}
	set.Flags().StringVar(&in.AccountID, "account", "", "account id")
	set.Flags().StringVar(&platform, "platform", "", "messenger or whatsapp")
	set.Flags().StringVar(&in.RoutingID, "routing-id", "", "page id or phone number id")
	set.Flags().StringVar(&in.AccessToken, "access-token", "", "Graph API access token")
	set.Flags().StringVar(&in.VerifyToken, "verify-token", "", "webhook verify token")
	set.Flags().StringVar(&in.AppSecret, "app-secret", "", "app secret for payload signatures")
	for _, name := range []string{"account", "platform", "routing-id", "access-token", "verify-token"} {
		_ = set.MarkFlagRequired(name)
	}
	cmd.AddCommand(set)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo())
		},
	}
}
