package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mevdschee/tqorm/client"
	"github.com/mevdschee/tqorm/config"
	"github.com/mevdschee/tqorm/metrics"
	"github.com/mevdschee/tqorm/pool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tqorm",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tqorm v%s\n", Version)
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Connect to the database and its replicas",
		RunE:  runPing,
	}

	poolInfoCmd = &cobra.Command{
		Use:   "pool-info",
		Short: "Print pool statistics for every configured database",
		RunE:  runPoolInfo,
	}

	ensureDBCmd = &cobra.Command{
		Use:   "ensure-db",
		Short: "Create the configured database if it does not exist",
		RunE:  runEnsureDB,
	}

	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Serve Prometheus metrics and run replica health checks",
		RunE:  runMetrics,
	}
)

func init() {
	metricsCmd.Flags().String("listen", "", "metrics listen address (defaults to [metrics] listen)")
	metricsCmd.Flags().Duration("health-interval", 10*time.Second, "interval between replica health checks")
}

func closeClient(c *client.Client) {
	if err := c.Close(); err != nil {
		log.WithError(err).WithField("database", c.Name()).Error("close failed")
	}
	c.Caches().Close()
}

func runPing(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c, err := openClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeClient(c)

	c.Pool().CheckReplicas(ctx)
	db := c.Pool().Config()
	fmt.Printf("%s: primary ok (%s, %s)\n", c.Name(), db.DriverName(), config.RedactDSN(db.DSN))
	for _, name := range c.Pool().ReplicaNames() {
		state := "ok"
		if !c.Pool().IsHealthy(name) {
			state = "unhealthy"
		}
		fmt.Printf("%s: %s %s\n", c.Name(), name, state)
	}
	return nil
}

func runPoolInfo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	registry := pool.NewRegistry()
	defer registry.CloseAll()

	for _, name := range cfg.DatabaseNames() {
		db, _ := cfg.Database(name)
		if _, err := registry.Open(ctx, name, db); err != nil {
			log.WithError(err).WithField("database", name).Error("open failed")
			continue
		}
		info, _ := registry.Info(name)
		fmt.Println(info)
	}
	return nil
}

func runEnsureDB(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := viper.GetString("database")
	db, ok := cfg.Database(name)
	if !ok {
		return errors.Errorf("database %q is not configured", name)
	}
	if err := pool.EnsureDatabase(cmd.Context(), db); err != nil {
		return err
	}
	fmt.Printf("%s: database ready\n", name)
	return nil
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	listen := viper.GetString("listen")
	if listen == "" {
		listen = cfg.Metrics.Listen
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	metrics.Init()

	var clients []*client.Client
	registry := pool.NewRegistry()
	for _, name := range cfg.DatabaseNames() {
		db, _ := cfg.Database(name)
		c, err := client.New(ctx, name, db, client.WithRegistry(registry))
		if err != nil {
			log.WithError(err).WithField("database", name).Error("open failed")
			continue
		}
		clients = append(clients, c)
		go c.Pool().StartHealthChecks(ctx, viper.GetDuration("health-interval"))
		log.WithField("database", name).Info(c.PoolInfo())
	}
	defer func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				log.WithError(err).WithField("database", c.Name()).Error("close failed")
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	srv := &http.Server{Addr: listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", listen).Info("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("shutting down")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}
