package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"imagepicker/internal/metrics"
	"imagepicker/internal/overlay"
	"imagepicker/internal/panel"
)

func newWatchCmd() *cobra.Command {
	var ff filterFlags
	var poll time.Duration
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Show the overlay grid and follow images added to the page",
		Long: `watch opens the overlay grid and keeps it open until interrupted. Images
the page gains after the grid opens are merged in. Static pages are polled
for changes; live pages report DOM mutations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, args[0], sessionOptions{
				poll:     poll,
				renderer: func(id string) overlay.Renderer { return newTermRenderer(cmd.OutOrStdout(), id) },
			})
			if err != nil {
				return err
			}
			defer s.Close()

			addr := s.cfg.MetricsAddr
			if metricsAddr != "" {
				addr = metricsAddr
			}
			if addr != "" {
				exp := metrics.NewExporter(addr)
				go func() {
					if err := exp.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						s.logger.Error("metrics exporter", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = exp.Shutdown(shutdownCtx)
				}()
				s.logger.Info("metrics exporter listening", "addr", addr)
			}

			if err := s.open(ctx, cmd, &ff); err != nil {
				return err
			}
			if err := s.panel.ShowOverlay(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			printStatus(panel.Status{Kind: panel.StatusInfo, Text: "Stopped watching"})
			return nil
		},
	}
	ff.register(cmd)
	cmd.Flags().DurationVar(&poll, "poll", 2*time.Second, "change polling interval for static pages")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
