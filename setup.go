package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"opsagent/internal/app"
	"opsagent/internal/auth"
	"opsagent/internal/server"
	"opsagent/internal/sheets"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WhatsApp webhook and Google login pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			srv, err := a.WebhookServer(ctx)
			if err != nil {
				return err
			}
			return server.Serve(ctx, "webhook", a.Settings.Server.ListenAddr, srv.Handler())
		})
	},
}

var munimCmd = &cobra.Command{
	Use:   "munim",
	Short: "Run the monitor that sends low stock, staff and cash flow alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.Monitor().Run(ctx)
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run the live dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return server.Serve(ctx, "dashboard", a.Settings.Dashboard.ListenAddr, a.Dashboard().Handler())
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run webhook, monitor and dashboard together",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			srv, err := a.WebhookServer(ctx)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Serve(ctx, "webhook", a.Settings.Server.ListenAddr, srv.Handler())
			})
			g.Go(func() error {
				return a.Monitor().Run(ctx)
			})
			g.Go(func() error {
				return server.Serve(ctx, "dashboard", a.Settings.Dashboard.ListenAddr, a.Dashboard().Handler())
			})

			log.Info().
				Str("webhook", a.Settings.Server.ListenAddr).
				Str("dashboard", a.Settings.Dashboard.ListenAddr).
				Msg("OpsAgent system running")
			return g.Wait()
		})
	},
}

var fixSchemaCmd = &cobra.Command{
	Use:   "fix-schema",
	Short: "Add missing tabs (Staff, Khata, ...) to a tenant spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		seed, _ := cmd.Flags().GetBool("seed")

		return withApp(func(ctx context.Context, a *app.App) error {
			t, err := a.Tenants.ForEmail(ctx, email)
			if err != nil {
				return err
			}

			created, err := sheets.EnsureSchema(ctx, t.Sheet)
			if err != nil {
				return fmt.Errorf("fixing schema: %w", err)
			}
			for _, title := range created {
				fmt.Printf("Created '%s' tab\n", title)
			}
			if len(created) == 0 {
				fmt.Println("All tabs present")
			}

			if seed {
				if err := sheets.SeedStaff(ctx, t.Sheet); err != nil {
					return err
				}
				fmt.Println("Added sample staff")
			}
			fmt.Printf("Database ready: %s\n", t.Sheet.URL())
			return nil
		})
	},
}

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Set the dashboard password for an account",
	Long: `Hashes a dashboard password with bcrypt.

With --email the hash is stored on that account. Without it the hash is
printed for use as DASHBOARD_PASSWORD_HASH.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimSpace(line)
		}
		if password == "" {
			return errors.New("password must not be empty")
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		if email == "" {
			fmt.Printf("DASHBOARD_PASSWORD_HASH=%s\n", hash)
			return nil
		}

		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Store.SetPasswordHash(ctx, email, hash); err != nil {
				return err
			}
			fmt.Printf("Dashboard password set for %s\n", email)
			return nil
		})
	},
}

func init() {
	fixSchemaCmd.Flags().String("email", "", "account to repair (default tenant when empty)")
	fixSchemaCmd.Flags().Bool("seed", false, "add sample staff rows")

	setPasswordCmd.Flags().String("email", "", "account to protect")
	setPasswordCmd.Flags().String("password", "", "password (read from stdin when empty)")
}
