package pgguardcmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ardentperf/pg-idle-test/lib/experiment"
)

func (T *command) runCommand(mode experiment.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config := T.config
			config.Mode = mode
			return T.run(cmd, config)
		},
	}
}

func (T *command) run(cmd *cobra.Command, config experiment.Config) error {
	log, flush, err := newLogger(T.logLevel)
	if err != nil {
		return err
	}
	defer flush()

	config.Logger = log

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if T.metricsAddr != "" {
		stop := serveMetrics(T.metricsAddr, log)
		defer stop()
	}

	result, err := experiment.Run(ctx, config)
	if err != nil {
		log.Error("experiment failed", zap.Error(err))
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	if err = enc.Encode(result); err != nil {
		return err
	}
	return enc.Close()
}

func serveMetrics(addr string, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
