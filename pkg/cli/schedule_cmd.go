package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"bqflow/internal/pipeline"
)

func newScheduleCmd(g *globals) *cobra.Command {
	var (
		dir  string
		addr string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run every scheduled pipeline in a directory until interrupted",
		Long: "Loads every *.yaml pipeline in the directory, triggers each on its cron schedule " +
			"and serves /healthz and /metrics. SIGHUP reloads the definitions.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := pipeline.LoadDir(dir)
			if err != nil {
				return err
			}
			if !g.templateDirSet() {
				g.cfg.TemplateDir = dir
			}
			if addr == "" {
				addr = g.cfg.MetricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if g.registry == nil {
				g.registry = prometheus.NewRegistry()
				g.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			}
			a, err := newApp(ctx, g, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			sched := pipeline.NewScheduler(a.exec, a.env, a.logger)
			sched.Start(ctx, defs)
			defer sched.Stop()

			go reloadOnHangup(ctx, sched, dir, a)

			srv := &http.Server{
				Addr:              addr,
				Handler:           newOpsRouter(a.registry, sched),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}
			go func() {
				<-ctx.Done()
				a.logger.Info("shutting down scheduler")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory of pipeline definitions")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for /healthz and /metrics (default METRICS_ADDR)")
	return cmd
}

// newOpsRouter serves the health and metrics endpoints of schedule mode.
func newOpsRouter(reg *prometheus.Registry, sched *pipeline.Scheduler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"pipelines": sched.Len(),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}

func reloadOnHangup(ctx context.Context, sched *pipeline.Scheduler, dir string, a *app) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		defs, err := pipeline.LoadDir(dir)
		if err != nil {
			a.logger.Warn("reload failed", "dir", dir, "error", err)
			continue
		}
		sched.Reload(defs)
		a.logger.Info("pipelines reloaded", "pipelines", sched.Len())
	}
}
