package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stockwatch/internal/bigarena"
	"stockwatch/internal/config"
	"stockwatch/internal/monitor"
	"stockwatch/internal/otel"
	"stockwatch/internal/server"
	"stockwatch/internal/store"
	"stockwatch/internal/version"
	"stockwatch/pkg/bus"
	"stockwatch/pkg/db"
	"stockwatch/pkg/render"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           version.Name,
		Short:         "BigArena vendor inventory monitor and sales reporting",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newPricesCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll all configured vendors once and record inferred sales",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			vendors, err := config.LoadVendors(cfg.VendorsFile)
			if err != nil {
				return err
			}

			shutdownTracing, err := otel.Init(ctx, cfg.OTLPEndpoint)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer shutdownWithTimeout(shutdownTracing)

			pool, err := openDatabase(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			gateway, err := store.New(pool)
			if err != nil {
				return err
			}

			client, err := bigarena.NewClient(bigarena.Config{
				BaseURL:  cfg.BaseURL,
				Email:    cfg.Email,
				Password: cfg.Password,
				Timeout:  cfg.HTTPTimeout,
			})
			if err != nil {
				return fmt.Errorf("create panel client: %w", err)
			}

			opts := monitor.Options{
				LogDir: cfg.LogDir,
				Pause:  cfg.VendorPause,
				Logger: log.Logger,
			}

			if cfg.NATSURL != "" {
				b, err := bus.New(cfg.NATSURL)
				if err != nil {
					return fmt.Errorf("connect event bus: %w", err)
				}
				defer b.Close()
				opts.Publisher = b
			}

			runner, err := monitor.NewRunner(client, gateway, opts)
			if err != nil {
				return err
			}

			log.Info().Int("vendors", len(vendors)).Msg("starting monitoring run")
			return runner.RunAll(ctx, vendors)
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the reporting API and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			shutdownTracing, err := otel.Init(ctx, cfg.OTLPEndpoint)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer shutdownWithTimeout(shutdownTracing)

			pool, err := openDatabase(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			gateway, err := store.New(pool)
			if err != nil {
				return err
			}

			renderer, err := render.New()
			if err != nil {
				return err
			}

			srvLayer, err := server.New(gateway, renderer)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           srvLayer.Router(server.Options{AllowedOrigins: cfg.AllowedOrigins}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("shutdown server")
				}
			}()

			log.Info().Str("addr", cfg.Addr).Msg("starting stockwatch reporting server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}

			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

func newPricesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Product price maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newPricesSeedCommand())
	cmd.AddCommand(newPricesSetCommand())
	return cmd
}

func newPricesSeedCommand() *cobra.Command {
	var vendorID int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create zero-price rows for every product in a vendor's snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			gateway, pool, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			created, err := gateway.SeedPrices(ctx, vendorID)
			if err != nil {
				return err
			}

			log.Info().Int("vendor_id", vendorID).Int("created", created).Msg("seeded prices")
			return nil
		},
	}

	cmd.Flags().IntVar(&vendorID, "vendor", 0, "Vendor ID to seed prices for")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func newPricesSetCommand() *cobra.Command {
	var (
		vendorID  int
		productID string
		name      string
		price     string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set or update one product's unit price",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			unitPrice, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", price, err)
			}
			if unitPrice.IsNegative() {
				return errors.New("price must not be negative")
			}

			gateway, pool, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := gateway.UpsertPrice(ctx, vendorID, productID, name, unitPrice); err != nil {
				return err
			}

			log.Info().
				Int("vendor_id", vendorID).
				Str("product_id", productID).
				Str("price", unitPrice.StringFixed(2)).
				Msg("price updated")
			return nil
		},
	}

	cmd.Flags().IntVar(&vendorID, "vendor", 0, "Vendor ID")
	cmd.Flags().StringVar(&productID, "product", "", "Product ID")
	cmd.Flags().StringVar(&name, "name", "", "Product display name")
	cmd.Flags().StringVar(&price, "price", "", "Unit price, e.g. 12.50")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

// openDatabase connects and applies any pending migrations so every command
// starts against a current schema.
func openDatabase(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return pool, nil
}

func openGateway(ctx context.Context) (*store.Store, *pgxpool.Pool, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	gateway, err := store.New(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return gateway, pool, nil
}

func shutdownWithTimeout(fn func(context.Context) error) {
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown tracing")
	}
}
