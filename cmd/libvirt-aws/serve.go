package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/attachment"
	"github.com/libvirt-aws/libvirt-aws/internal/config"
	"github.com/libvirt-aws/libvirt-aws/internal/dispatch"
	"github.com/libvirt-aws/libvirt-aws/internal/ec2handlers"
	"github.com/libvirt-aws/libvirt-aws/internal/logutil"
	"github.com/libvirt-aws/libvirt-aws/internal/lvclient"
	"github.com/libvirt-aws/libvirt-aws/internal/route53handlers"
	"github.com/libvirt-aws/libvirt-aws/internal/ssmhandlers"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
)

// gcInterval is how often the instance garbage collector sweeps
// terminated rows; gcAge is how old a terminated instance must be before
// it's collected (spec.md §3: "garbage-collected once older than 2
// minutes").
const (
	gcInterval = 30 * time.Second
	gcAge      = 2 * time.Minute
)

func newServeCommand() *cobra.Command {
	cfg := config.NewDefault()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the AWS-compatible control plane server",
		Long:  "Configuration values are overwritten by LIBVIRT_AWS_-prefixed environment variables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func serve(cfg *config.Config) error {
	if err := cfg.BindEnv(); err != nil {
		return fmt.Errorf("loading environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logutil.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store %q: %w", cfg.Database, err)
	}
	defer st.Close()

	conn, err := lvclient.Dial(cfg.LibvirtURI, cfg.LibvirtImagePool, cfg.LibvirtNetwork)
	if err != nil {
		return fmt.Errorf("connecting to libvirt at %q: %w", cfg.LibvirtURI, err)
	}
	defer conn.Close()

	tracker := attachment.NewTracker()

	registry := dispatch.NewRegistry()
	ec2handlers.New(st, conn, tracker, cfg, log).Register(registry)
	route53handlers.New(st, conn, cfg, log).Register(registry)
	ssmhandlers.New(st, conn, cfg, log).Register(registry)

	engine := dispatch.NewEngine(registry, log)
	addr := fmt.Sprintf("%s:%d", cfg.BindTo, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runGC(ctx, st, log)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}

// runGC sweeps instance rows terminated more than gcAge ago, every
// gcInterval, until ctx is canceled (spec.md §3).
func runGC(ctx context.Context, st *store.Store, log *zap.Logger) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-gcAge).UTC().Format(time.RFC3339)
			var removed []string
			err := st.WithTx(ctx, func(tx *sql.Tx) error {
				ids, err := store.GCTerminatedInstances(ctx, tx, cutoff)
				if err != nil {
					return err
				}
				removed = ids
				for _, id := range ids {
					if err := store.DeleteTags(ctx, tx, "instance", id, nil); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				log.Warn("instance gc sweep failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				log.Info("garbage collected terminated instances", zap.Strings("instance_ids", removed))
			}
		}
	}
}
