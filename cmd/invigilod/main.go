// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

// invigilod runs one proctored assessment session. Observations arrive as
// newline-delimited JSON on stdin; violations and the terminal security
// event flow to the configured sinks. With --replay it validates scenario
// files against the engine and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/invigilo/invigilo/internal/adapter"
	"github.com/invigilo/invigilo/internal/config"
	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/opsserver"
	"github.com/invigilo/invigilo/internal/proctor"
	"github.com/invigilo/invigilo/internal/scenario"
	"github.com/invigilo/invigilo/internal/sink"
	"github.com/invigilo/invigilo/internal/supervisor"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	replay := flag.String("replay", "", "comma-separated scenario files to replay instead of running the daemon")
	replayFormat := flag.String("replay-format", "text", "replay output format: text or json")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("invigilod " + version)
		return 0
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invigilod: %v\n", err)
		return 1
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	if *replay != "" {
		return runReplay(strings.Split(*replay, ","), cfg, *replayFormat)
	}
	return runDaemon(cfg)
}

func runReplay(paths []string, cfg *config.Config, format string) int {
	results, err := scenario.RunAll(paths, cfg.EngineConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "invigilod: %v\n", err)
		return 1
	}

	switch format {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invigilod: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(scenario.FormatText(results))
	}

	for _, r := range results {
		if !r.Passed {
			return 1
		}
	}
	return 0
}

func runDaemon(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, cleanup, badgerSink, err := buildSinks(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("sink setup failed")
		return 1
	}
	defer cleanup()

	sess := proctor.NewSession(proctor.SessionConfig{
		SessionID: cfg.Session.SessionID,
		UserID:    cfg.Session.UserID,
		Engine:    cfg.EngineConfig(),
		Sinks:     sinks,
		Callbacks: proctor.Callbacks{
			OnViolation: func(v proctor.Violation) {
				logging.Warn().
					Str("violation_id", v.ID).
					Str("category", string(v.Category)).
					Str("severity", string(v.Severity)).
					Msg(v.Description)
			},
			OnTermination: func(reason string) {
				logging.Error().Str("reason", reason).Msg("session terminated")
				stop()
			},
			OnError: func(msg string) {
				logging.Warn().Str("detail", msg).Msg("session degraded")
			},
		},
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddCaptureService(supervisor.NewSessionService(sess))

	feed := adapter.NewFeed(os.Stdin, sess, adapter.FeedConfig{
		Enabled: map[proctor.Category]bool{
			proctor.CategoryFace:     cfg.Adapters.Face.Enabled,
			proctor.CategoryVoice:    cfg.Adapters.Voice.Enabled,
			proctor.CategoryFocus:    cfg.Adapters.Focus.Enabled,
			proctor.CategoryReported: true,
		},
		VoiceSensitivity: cfg.Adapters.Voice.Sensitivity,
	})
	tree.AddCaptureService(supervisor.NewAdapterService(feed))

	if badgerSink != nil && cfg.Sinks.Badger.GCInterval > 0 {
		tree.AddDeliveryService(supervisor.NewGCService("audit-gc", badgerSink, cfg.Sinks.Badger.GCInterval))
	}

	if cfg.Ops.Enabled {
		ops := opsserver.New(opsserver.Config{
			Host:    cfg.Ops.Host,
			Port:    cfg.Ops.Port,
			Timeout: cfg.Ops.Timeout,
		}, sess)
		tree.AddOpsService(supervisor.NewHTTPService(ops.HTTPServer(), ops.ShutdownTimeout()))
	}

	logging.Info().
		Str("version", version).
		Str("session_id", sess.Status().SessionID).
		Str("user_id", cfg.Session.UserID).
		Msg("invigilod starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree failed")
		return 1
	}

	snap := sess.Status()
	logging.Info().
		Str("state", string(snap.State)).
		Str("risk_level", string(snap.RiskLevel)).
		Int("violations", len(snap.Violations)).
		Msg("invigilod stopped")
	return 0
}

// buildSinks assembles the enabled delivery backends. The returned cleanup
// closes everything the daemon owns, after the session is done dispatching.
func buildSinks(cfg *config.Config) ([]proctor.EventSink, func(), *sink.BadgerSink, error) {
	var (
		sinks    []proctor.EventSink
		closers  []func()
		badgerDB *sink.BadgerSink
	)
	cleanup := func() {
		// Give in-flight async dispatches a moment to land.
		time.Sleep(100 * time.Millisecond)
		for _, c := range closers {
			c()
		}
	}

	if cfg.Sinks.Badger.Enabled {
		b, err := sink.NewBadgerSink(sink.BadgerConfig{
			Dir: cfg.Sinks.Badger.Dir,
			TTL: cfg.Sinks.Badger.TTL,
		})
		if err != nil {
			return nil, func() {}, nil, err
		}
		badgerDB = b
		sinks = append(sinks, b)
		closers = append(closers, func() {
			if err := b.Close(); err != nil {
				logging.Error().Err(err).Msg("close audit store")
			}
		})
	}

	if cfg.Sinks.Webhook.Enabled {
		sinks = append(sinks, sink.NewWebhookSink(sink.WebhookConfig{
			URL:              cfg.Sinks.Webhook.URL,
			Headers:          cfg.Sinks.Webhook.Headers,
			Timeout:          cfg.Sinks.Webhook.Timeout,
			RatePerSecond:    cfg.Sinks.Webhook.RatePerSecond,
			Burst:            cfg.Sinks.Webhook.Burst,
			FailureThreshold: cfg.Sinks.Webhook.FailureThreshold,
			OpenTimeout:      cfg.Sinks.Webhook.OpenTimeout,
		}))
	}

	if cfg.Sinks.Publisher.Enabled {
		pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
		sinks = append(sinks, sink.NewPublisherSink(pubsub, sink.PublisherConfig{
			ViolationTopic: cfg.Sinks.Publisher.ViolationTopic,
			EventTopic:     cfg.Sinks.Publisher.EventTopic,
		}))
		closers = append(closers, func() {
			if err := pubsub.Close(); err != nil {
				logging.Error().Err(err).Msg("close event bus")
			}
		})
	}

	return sinks, cleanup, badgerDB, nil
}
