package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/NewComer00/TalkyTalky/internal/actor"
	"github.com/NewComer00/TalkyTalky/internal/bus"
	"github.com/NewComer00/TalkyTalky/internal/conn"
	"github.com/NewComer00/TalkyTalky/internal/llm"
	"github.com/NewComer00/TalkyTalky/internal/metrics"
	"github.com/NewComer00/TalkyTalky/internal/monitor"
	"github.com/NewComer00/TalkyTalky/internal/service"
	"github.com/NewComer00/TalkyTalky/internal/stt"
	"github.com/NewComer00/TalkyTalky/internal/tts"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "serve <capability>",
		Short:     "Serve one capability on its configured address",
		Long:      "Serve one capability (" + strings.Join(service.Capabilities, ", ") + ") to a single client until it disconnects.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: service.Capabilities,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), args[0])
		},
	}
}

// capability is what a serve process needs to accept its one client.
type capability struct {
	addr    string
	bufLen  int
	handler service.Handler
	cleanup func()
}

func serve(ctx context.Context, name string) error {
	if !slices.Contains(service.Capabilities, name) {
		return fmt.Errorf("unknown capability %q (want one of %s)", name, strings.Join(service.Capabilities, ", "))
	}
	log := logger.Component(name)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	b := bus.NewEventBus()
	defer b.Clear()

	var (
		c   capability
		err error
	)
	switch name {
	case service.CapabilitySTT:
		c, err = newTranscription(log)
	case service.CapabilityLLM:
		c, err = newGeneration(log)
	case service.CapabilityTTS:
		c, err = newSpeech(log)
	case service.CapabilityAction:
		c, err = newAction(ctx, log, m, b, reg)
	}
	if err != nil {
		return err
	}
	if c.cleanup != nil {
		defer c.cleanup()
	}

	cn, err := conn.Listen(ctx, c.addr, cfg.Connection.AcceptTimeout,
		conn.WithRecvBufLen(c.bufLen), conn.WithLogger(log))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	err = service.Serve(ctx, &service.Session{
		Name:    name,
		Conn:    cn,
		Handler: c.handler,
		Metrics: m,
		Bus:     b,
		Log:     log,
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Capability stopped")
	}
	return err
}

func newTranscription(log zerolog.Logger) (capability, error) {
	t, err := stt.New(cfg.STT, log)
	if err != nil {
		return capability{}, err
	}
	return capability{addr: cfg.STT.Addr, bufLen: cfg.STT.RecvBufLen, handler: service.Transcription(t)}, nil
}

func newGeneration(log zerolog.Logger) (capability, error) {
	g, err := llm.New(cfg.LLM, log)
	if err != nil {
		return capability{}, err
	}
	return capability{addr: cfg.LLM.Addr, bufLen: cfg.LLM.RecvBufLen, handler: service.Generation(g)}, nil
}

func newSpeech(log zerolog.Logger) (capability, error) {
	e, err := tts.NewEngine(cfg.TTS, log)
	if err != nil {
		return capability{}, err
	}
	return capability{addr: cfg.TTS.Addr, bufLen: cfg.TTS.RecvBufLen, handler: service.Speech(e)}, nil
}

// newAction starts the frame daemon, connects to the synthesis capability
// and, when configured, the monitor.
func newAction(ctx context.Context, log zerolog.Logger, m *metrics.Metrics, b *bus.EventBus, reg *prometheus.Registry) (capability, error) {
	lib, err := actor.LoadLibrary(cfg.Action.FramesDir, cfg.Action.FrameLen)
	if err != nil {
		return capability{}, fmt.Errorf("load frames: %w", err)
	}
	sink, err := actor.NewUDPSink(cfg.Action.FrontendAddr)
	if err != nil {
		return capability{}, err
	}

	flag := actor.NewStateFlag(actor.Idle)
	daemon := &actor.Daemon{
		Flag:    flag,
		Library: lib,
		Sink:    sink,
		FPS:     cfg.Action.FPS,
		Metrics: m,
		Log:     log.With().Str("component", "daemon").Logger(),
	}
	go daemon.Run(ctx)

	speech, err := service.DialClient(ctx, service.CapabilityTTS, cfg.TTS.Addr,
		cfg.Connection.MaxRetries, cfg.Connection.RetryDelay, log,
		conn.WithRecvBufLen(cfg.TTS.RecvBufLen))
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.TTS.Addr).Msg("Synthesis unavailable, replies will not be spoken")
	}

	a := &actor.Actor{
		Flag:    flag,
		Reader:  service.SpeechClient{Client: speech},
		Bus:     b,
		Metrics: m,
		Log:     log,
	}

	if cfg.Action.MonitorAddr != "" {
		mon := monitor.NewServer(flag, b, reg, log.With().Str("component", "monitor").Logger()).
			WithLogs(logger)
		go func() {
			if err := mon.Run(ctx, cfg.Action.MonitorAddr); err != nil {
				log.Error().Err(err).Msg("Monitor stopped")
			}
		}()
	}

	return capability{
		addr:    cfg.Action.Addr,
		bufLen:  cfg.Action.RecvBufLen,
		handler: service.Action(a, log),
		cleanup: func() {
			speech.Close()
			sink.Close()
		},
	}, nil
}
