package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gluk-w/hive-server/internal/auth"
	"github.com/gluk-w/hive-server/internal/config"
	"github.com/gluk-w/hive-server/internal/database"
	"github.com/gluk-w/hive-server/internal/handlers"
	"github.com/gluk-w/hive-server/internal/logging"
	"github.com/gluk-w/hive-server/internal/session"
)

var (
	flagDatabaseURL string
	flagListen      string
)

func main() {
	root := &cobra.Command{
		Use:           "hive-server",
		Short:         "Multi-user SSH session broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.Load()
			if flagDatabaseURL != "" {
				config.Cfg.DatabaseURL = flagDatabaseURL
			}
			if flagListen != "" {
				config.Cfg.Listen = flagListen
			}
		},
	}
	root.PersistentFlags().StringVar(&flagDatabaseURL, "database-url", "", "database URL (default from DATABASE_URL)")
	root.PersistentFlags().StringVar(&flagListen, "listen", "", "listen address (default [::1]:50051)")

	userCmd := &cobra.Command{Use: "user", Short: "Manage users"}
	userCmd.AddCommand(userCreateCmd(), userListCmd())

	keyCmd := &cobra.Command{Use: "key", Short: "Manage API keys"}
	keyCmd.AddCommand(keyCreateCmd(), keyListCmd(), keyRevokeCmd())

	root.AddCommand(userCmd, keyCmd, migrateCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openStore connects to the configured database and runs migrations, so CLI
// commands work against a fresh database file without a separate migrate.
func openStore() (*database.Store, error) {
	store, err := database.Open(config.Cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func userCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			existing, err := store.FindUserByUsername(args[0])
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("user %q already exists", args[0])
			}

			user, err := store.CreateUser(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := store.ListUsers()
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%s\t%s\t%s\n", u.ID, u.Username, u.CreatedAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func keyCreateCmd() *cobra.Command {
	var username, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.FindUserByUsername(username)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("user %q not found", username)
			}

			key, err := auth.GenerateKey()
			if err != nil {
				return err
			}
			if _, err := store.CreateAPIKey(user.ID, name, key); err != nil {
				return err
			}

			// The plaintext key is shown once; only its hash is stored.
			fmt.Printf("%s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username the key belongs to")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")
	return cmd
}

func keyListCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.FindUserByUsername(username)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("user %q not found", username)
			}

			keys, err := store.ListAPIKeysForUser(user.ID)
			if err != nil {
				return err
			}
			for _, k := range keys {
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
				}
				fmt.Printf("%s\t%s\tlast used: %s\n", k.ID, k.Name, lastUsed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username whose keys to list")
	cmd.MarkFlagRequired("user")
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.RevokeAPIKey(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return errors.New("no matching key")
			}
			fmt.Println("key revoked")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init()
			defer logging.Close()

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			mgr := session.NewManager(store, nil)

			// Everything active in the database is an orphan at startup.
			if _, err := mgr.ReconcileOrphans(); err != nil {
				log.Printf("WARNING: startup reconcile: %v", err)
			}

			idleTimeout, err := time.ParseDuration(config.Cfg.SessionIdleTimeout)
			if err != nil {
				idleTimeout = time.Hour
			}

			c := cron.New()
			spec := "@every " + config.Cfg.ReconcileInterval
			if _, err := c.AddFunc(spec, func() {
				if _, err := mgr.ReconcileOrphans(); err != nil {
					log.Printf("[sweep] reconcile: %v", err)
				}
				if _, err := mgr.CloseIdle(idleTimeout); err != nil {
					log.Printf("[sweep] close idle: %v", err)
				}
			}); err != nil {
				return fmt.Errorf("schedule sweep %q: %w", spec, err)
			}
			c.Start()
			defer c.Stop()

			api := &handlers.API{Store: store, Manager: mgr}
			srv := &http.Server{
				Addr:    config.Cfg.Listen,
				Handler: api.NewRouter(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("listening on %s", config.Cfg.Listen)
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case sig := <-sigCh:
				log.Printf("received %s, shutting down", sig)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("WARNING: http shutdown: %v", err)
			}

			mgr.CloseAll()
			log.Printf("shutdown complete")
			return nil
		},
	}
}
