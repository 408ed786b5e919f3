// Package cli is the command line of the brain:
//
//	brain serve -c config.yaml     run the brain
//	brain check -c config.yaml     validate a configuration file
//	brain status --addr URL        print instance status of a running brain
//	brain watch --addr URL         stream completion events
//	brain version                  print build metadata
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scanbrain/internal/api"
	"scanbrain/internal/buildinfo"
	"scanbrain/internal/clock"
	"scanbrain/internal/config"
	"scanbrain/internal/controller"
	"scanbrain/internal/cooldown"
	"scanbrain/internal/events"
	"scanbrain/internal/geo"
	"scanbrain/internal/logging"
	"scanbrain/internal/metrics"
	"scanbrain/internal/registry"
	"scanbrain/internal/store"
)

const shutdownTimeout = 10 * time.Second

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "brain",
		Short:         "Task dispatch brain for a fleet of scanning devices",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "config file path")

	root.AddCommand(buildServeCommand(&configFile))
	root.AddCommand(buildCheckCommand(&configFile))
	root.AddCommand(buildStatusCommand())
	root.AddCommand(buildWatchCommand())
	root.AddCommand(buildVersionCommand())
	return root
}

func buildServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the instances and serve device polls",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logging.New(os.Stdout, cfg.LogLevel))
		},
	}
}

func buildCheckCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file and build every instance against an empty store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			log := slog.New(slog.NewTextHandler(io.Discard, nil))
			reg := registry.New(controller.Deps{Store: store.NewMemory(), Logger: log}, nil)
			defer reg.Stop()
			if err := reg.Load(cfg.Instances, cfg.DeviceMap()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d instances, %d devices\n", *configFile, len(cfg.Instances), len(cfg.Devices))
			return writeStatus(out, reg.Status(cmd.Context()))
		},
	}
}

func buildStatusCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of every instance of a running brain",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := fetchStatus(cmd.Context(), http.DefaultClient, addr)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "brain base URL")
	return cmd
}

func buildVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}

func fetchStatus(ctx context.Context, client *http.Client, addr string) ([]registry.InstanceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/v1/instances", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query brain: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query brain: unexpected status %s", resp.Status)
	}
	var body struct {
		Instances []registry.InstanceStatus `json:"instances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return body.Instances, nil
}

func writeStatus(w io.Writer, list []registry.InstanceStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDEVICES\tSTATUS")
	for _, s := range list {
		status := strings.ReplaceAll(s.Status, "\n", "; ")
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, s.Kind, s.Devices, status)
	}
	return tw.Flush()
}

// backends are the storage and event connections serve opens.
type backends struct {
	store  store.Store
	broker events.Broker
	ready  map[string]api.Pinger
	close  func()
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{ready: map[string]api.Pinger{}}
	var closers []func() error
	b.close = func() {
		for _, c := range closers {
			_ = c()
		}
	}

	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.store = pg
		b.ready["postgres"] = pg
	case cfg.SQLitePath != "":
		lite, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		closers = append(closers, lite.Close)
		b.store = lite
		b.ready["sqlite"] = lite
	default:
		log.Warn("no database configured, using the in-memory store")
		b.store = store.NewMemory()
	}

	if cfg.RedisURL == "" {
		b.broker = events.NewBroker()
	} else {
		rb, err := events.NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		closers = append(closers, rb.Close)
		b.broker = rb
		b.ready["redis"] = rb
	}
	return b, nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	metrics.RegisterDefault()
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	clk := clock.Real()
	reg := registry.New(controller.Deps{
		Store:          b.store,
		Geo:            geo.NewPlanner(),
		Cooldown:       cooldown.New(b.store, clk, log.With("component", "cooldown")),
		Clock:          clk,
		Logger:         log,
		StorageTimeout: cfg.StorageTimeout,
	}, b.broker)
	if err := reg.Load(cfg.Instances, cfg.DeviceMap()); err != nil {
		return err
	}
	defer reg.Stop()

	srv := api.NewServer(api.Options{
		Registry:  reg,
		Broker:    b.broker,
		Logger:    log.With("component", "api"),
		Ready:     b.ready,
		PollRate:  cfg.PollRate,
		PollBurst: cfg.PollBurst,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("brain listening", "addr", cfg.HTTPAddr, "version", buildinfo.Version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
