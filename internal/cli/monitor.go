package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"slotbook/internal/apiclient"
	"slotbook/internal/config"
	"slotbook/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every API endpoint once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if app.Client == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Running against the in-process stub, no endpoints to probe.")
			return nil
		}
		apiclient.NewMonitor(app.Client, 0).Check(cmd.Context())
		printEndpoints(cmd.OutOrStdout(), app.Client.Endpoints().Snapshot())
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch endpoint health and the provider catalog",
	Long: `Run in the foreground: probe the endpoints on the configured interval,
switch away from an unhealthy active endpoint, reload providers.yaml on
change and serve Prometheus metrics when enabled.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg := app.Config
		logger := app.Logger

		if cfg.Monitoring.PrometheusEnabled {
			metrics.Register()
			go startMetricsServer(ctx, cfg.PrometheusPort(), logger)
		}

		err := config.WatchProviders(ctx, cfg.Booking.ProvidersPath, cfg.ReloadInterval(),
			func(p *config.ProvidersConfig) {
				app.SetProviders(p)
				logger.Info().Str("providers", p.String()).Msg("provider catalog loaded")
			},
			func(err error) {
				logger.Error().Err(err).Msg("provider catalog reload failed, keeping previous")
			},
		)
		if err != nil {
			return err
		}

		if app.Client != nil {
			apiclient.NewMonitor(app.Client, cfg.HealthCheckInterval()).Start(ctx)
			logger.Info().
				Int("endpoints", app.Client.Endpoints().Len()).
				Dur("interval", cfg.HealthCheckInterval()).
				Msg("monitoring endpoints")
		}

		<-ctx.Done()
		logger.Info().Msg("monitor stopped")
		return nil
	},
}

func printEndpoints(w io.Writer, list []apiclient.EndpointStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTIVE\tENDPOINT\tHEALTHY\tBREAKER\tCHECKED\tERROR")
	for _, s := range list {
		active := ""
		if s.Active {
			active = "*"
		}
		checked := "-"
		if s.Checked {
			checked = s.LastCheck.Format(time.TimeOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n", active, s.BaseURL, s.Healthy, s.Breaker, checked, s.LastError)
	}
	_ = tw.Flush()
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
