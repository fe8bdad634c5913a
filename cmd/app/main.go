package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yanqian/clinic-console/internal/domain/session"
	"github.com/yanqian/clinic-console/internal/infra/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "clinic-console"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// console is the session graph used by the one-shot commands.
type console struct {
	cfg       *config.Config
	manager   *session.Manager
	countdown *session.Countdown
	logger    *slog.Logger
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Clinic session console",
		Long: `clinic-console keeps one authenticated session against the clinic REST
API alive: it logs in, refreshes tokens before they expire, forces a logout
when they cannot be renewed and exposes the session on a local HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("CONFIG_PATH", configPath)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(
		serveCmd(),
		loginCmd(),
		logoutCmd(),
		refreshCmd(),
		statusCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the console HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("failed to wire application: %w", err)
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("application stopped with error: %w", err)
	}
	return nil
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CLINIC_PASSWORD")
			}
			return withConsole(cmd, func(ctx context.Context, c *console) error {
				resp, err := c.manager.Login(ctx, session.Credentials{Email: email, Password: password})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", resp.User.Email, resp.User.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (defaults to $CLINIC_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, func(ctx context.Context, c *console) error {
				if force {
					return c.manager.ForceLogout(ctx)
				}
				return c.manager.Logout(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Clear local state even if the backend call fails")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new pair now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, func(ctx context.Context, c *console) error {
				if err := c.manager.InitializeAuthState(ctx); err != nil {
					c.logger.Warn("session restore failed", "error", err)
				}
				pair, err := c.manager.RefreshTokens(ctx)
				if err != nil {
					return err
				}
				if pair == nil {
					return errors.New("not logged in")
				}
				return printStatus(ctx, cmd.OutOrStdout(), c)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, func(ctx context.Context, c *console) error {
				if err := c.manager.InitializeAuthState(ctx); err != nil {
					c.logger.Warn("session restore failed", "error", err)
				}
				return printStatus(ctx, cmd.OutOrStdout(), c)
			})
		},
	}
}

func withConsole(cmd *cobra.Command, fn func(ctx context.Context, c *console) error) error {
	c, cleanup, err := initializeConsole()
	if err != nil {
		return fmt.Errorf("failed to wire console: %w", err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Backend.Timeout*2)
	defer cancel()
	return fn(ctx, c)
}

func printStatus(ctx context.Context, w io.Writer, c *console) error {
	if err := c.countdown.Tick(ctx); err != nil {
		return err
	}
	snap, err := c.manager.Snapshot(ctx)
	if err != nil {
		return err
	}
	out := struct {
		session.Snapshot
		Remaining string `json:"remaining,omitempty"`
	}{Snapshot: snap, Remaining: c.countdown.Current().Formatted}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
