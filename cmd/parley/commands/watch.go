package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dyluth/parley/internal/printer"
	"github.com/dyluth/parley/internal/watch"
	"github.com/dyluth/parley/pkg/store"
)

var (
	watchOutputFormat string
	watchNamespace    string
	watchContact      string
	watchMetricsAddr  string
	watchFollow       []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream backend changes in real time",
	Long: `Stream every write and delete on the backend as it happens, including
changes made by other clients.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch everything
  parley watch

  # Only window state for one contact
  parley watch --namespace=chatWindow --contact=bob

  # Keep windows open so their hooks report remote changes, and expose metrics
  parley watch --follow bob --metrics-addr=:9090`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchNamespace, "namespace", "", "Only show events in this namespace")
	watchCmd.Flags().StringVar(&watchContact, "contact", "", "Only show events for this entity id")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	watchCmd.Flags().StringSliceVar(&watchFollow, "follow", nil, "Open and follow the windows of these contacts")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	watcher, ok := s.backend.(store.Watcher)
	if !ok {
		return printer.Error(
			"backend cannot be watched",
			fmt.Sprintf("The %s backend has no change feed.", s.cfg.Backend.Type),
			[]string{"Use the redis or postgres backend to watch changes across processes"},
		)
	}

	for _, contact := range watchFollow {
		contact := contact
		w, err := s.window(ctx, contact, true)
		if err != nil {
			return fmt.Errorf("failed to follow %s: %w", contact, err)
		}
		defer w.Close()
		w.OnMinimizedChange(func(minimized bool) {
			log.Info().Str("contact", contact).Bool("minimized", minimized).Msg("window state changed")
		})
		w.OnCleared(func() {
			log.Info().Str("contact", contact).Msg("history cleared")
		})
	}

	if watchMetricsAddr != "" {
		srv := &http.Server{
			Addr:              watchMetricsAddr,
			Handler:           promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", watchMetricsAddr).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	filter := watch.Filter{Namespace: watchNamespace, EntityID: watchContact}
	return watch.StreamChanges(ctx, watcher, outputFormat, filter, cmd.OutOrStdout(), nil)
}
