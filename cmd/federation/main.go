package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/federation/internal/app"
	"github.com/dropDatabas3/federation/internal/config"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/store/pg"
)

var version = "dev"

func main() {
	// .env es opcional; en prod las variables vienen del entorno
	_ = godotenv.Load()

	var (
		cfgPath = envOr("FEDERATION_CONFIG", "configs/config.yaml")
		cfg     *config.Config
	)

	root := &cobra.Command{
		Use:           "federation",
		Short:         "Login federado con proveedores OAuth2 externos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config %s: %w", cfgPath, err)
			}
			cfg = c
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: cfg.App.Name, Version: version})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "Archivo de configuración YAML (env FEDERATION_CONFIG)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := app.Build(ctx, cfg, app.Options{})
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Serve(ctx)
		},
	}

	// migrate up|down
	var steps int
	migrateCmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Aplica las migraciones de PostgreSQL",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate: storage.driver es %q, se necesita postgres", cfg.Storage.Driver)
			}
			ctx := cmd.Context()
			st, err := pg.New(ctx, cfg.Storage.DSN, pg.Tuning{MaxOpenConns: 2, MaxIdleConns: 1})
			if err != nil {
				return err
			}
			defer st.Close()
			applied, err := st.Migrate(ctx, args[0], steps)
			if err != nil {
				return err
			}
			logger.L().Info("migrations applied", zap.String("direction", args[0]), zap.Strings("files", applied))
			return nil
		},
	}
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "Cantidad de migraciones a aplicar (0 = todas)")

	root.AddCommand(serveCmd, migrateCmd)
	root.RunE = serveCmd.RunE

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
