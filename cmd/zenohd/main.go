// zenohd runs a standalone router: it accepts sessions from clients and
// peers, forwards their traffic, answers scouting, and serves its metrics.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eurc17/zenoh"
	"github.com/eurc17/zenoh/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("zenohd failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgPath     string
		listeners   []string
		peers       []string
		lease       uint64
		metricsAddr string
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "zenohd",
		Short: "zenoh router daemon",
		Long: `zenohd forms the routing backbone of a zenoh overlay: clients connect
to it, peers may use it to reach segments they cannot mesh with, and
routers interconnect into a mesh.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			cfg.Mode = "router"
			if len(listeners) > 0 {
				cfg.Listeners = listeners
			}
			if len(cfg.Listeners) == 0 {
				cfg.Listeners = []string{"tcp/0.0.0.0:7447"}
			}
			if len(peers) > 0 {
				cfg.Peers = peers
			}
			if lease > 0 {
				cfg.Lease = lease
			}
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "configuration file (.yaml or .json)")
	cmd.Flags().StringSliceVarP(&listeners, "listen", "l", nil, "locators to listen on (default tcp/0.0.0.0:7447)")
	cmd.Flags().StringSliceVarP(&peers, "peer", "e", nil, "locators of routers to connect to")
	cmd.Flags().Uint64Var(&lease, "lease", 0, "keep-alive lease in milliseconds")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (empty = disabled)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	session, err := zenoh.Open(cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	logrus.WithFields(logrus.Fields{
		"pid":       session.PeerID().String(),
		"listeners": cfg.Listeners,
	}).Info("router up")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(session.MetricsRegistry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			err := srv.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("router shutting down")
		return nil
	})
	return g.Wait()
}
