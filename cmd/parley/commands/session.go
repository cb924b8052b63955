package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/internal/config"
	"github.com/dyluth/parley/internal/instance"
	"github.com/dyluth/parley/internal/printer"
	"github.com/dyluth/parley/pkg/metrics"
	"github.com/dyluth/parley/pkg/pipe"
)

// session is everything a command needs after reading parley.yml.
type session struct {
	cfg       *config.Config
	name      string
	backend   instance.Backend
	pipelines *pipe.Registry
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
}

// openSession loads the configuration, opens its backend and builds the
// configured pipelines. Errors are already printed for the user.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, printer.Error(
				fmt.Sprintf("%s not found", configPath),
				"No parley configuration found.",
				[]string{"Create one first:\n  parley init"},
			)
		}
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			nil,
		)
	}

	// The config file provides the log level unless the flag was given
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		if err := setupLogging(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
			return nil, err
		}
	}

	name, err := instance.ResolveName(cfg.Instance)
	if err != nil {
		return nil, printer.Error("invalid instance name", err.Error(), []string{"Fix the instance field in " + configPath})
	}

	backend, err := instance.OpenBackend(ctx, cfg, name)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to open backend",
			err.Error(),
			map[string]string{"Backend": cfg.Backend.Type, "Instance": name},
			[]string{"Check the backend section of " + configPath},
		)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	pipelines, err := chat.BuildRegistry(cfg, pipe.WithLogger(log.Logger), pipe.WithMetrics(m))
	if err != nil {
		backend.Close()
		return nil, printer.Error("invalid pipeline configuration", err.Error(),
			[]string{"Valid stages: " + strings.Join(chat.StageNames(), ", ")})
	}

	log.Debug().Str("instance", name).Str("backend", cfg.Backend.Type).Msg("session opened")

	return &session{
		cfg:       cfg,
		name:      name,
		backend:   backend,
		pipelines: pipelines,
		metrics:   m,
		registry:  reg,
	}, nil
}

// window opens the chat window for contact on the session backend.
func (s *session) window(ctx context.Context, contact string, follow bool) (*chat.Window, error) {
	return chat.OpenWindow(ctx, chat.Deps{
		Backend:   s.backend,
		Pipelines: s.pipelines,
		Metrics:   s.metrics,
		Follow:    follow,
	}, contact)
}

func (s *session) Close() {
	if err := s.backend.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close backend")
	}
}
