package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"epubwrap/internal/trace"
)

// readTraceConfig turns the persistent --trace* flags into a tracer config.
func readTraceConfig(cmd *cobra.Command) (trace.Config, error) {
	flags := cmd.Root().PersistentFlags()
	var cfg trace.Config
	output, err := flags.GetString("trace")
	if err != nil {
		return cfg, fmt.Errorf("failed to get trace flag: %w", err)
	}
	level, err := flags.GetString("trace-level")
	if err != nil {
		return cfg, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	mode, err := flags.GetString("trace-mode")
	if err != nil {
		return cfg, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	format, err := flags.GetString("trace-format")
	if err != nil {
		return cfg, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	if cfg.RingSize, err = flags.GetInt("trace-ring-size"); err != nil {
		return cfg, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}

	if cfg.Level, err = trace.ParseLevel(level); err != nil {
		return cfg, err
	}
	if cfg.Level == trace.LevelOff && output != "" {
		// файл указан без уровня: пишем фазы
		cfg.Level = trace.LevelPhase
	}
	if cfg.Mode, err = trace.ParseMode(mode); err != nil {
		return cfg, err
	}
	if cfg.Format, err = trace.ParseFormat(format); err != nil {
		return cfg, err
	}
	cfg.OutputPath = output
	return cfg, nil
}

// setupTracing builds the tracer from the flags and stores it in the command
// context. The cleanup stops the heartbeat and closes the tracer.
func setupTracing(cmd *cobra.Command) (func(), error) {
	cfg, err := readTraceConfig(cmd)
	if err != nil {
		return nil, err
	}
	every, err := cmd.Root().PersistentFlags().GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	tracer, err := trace.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)
	if !tracer.Enabled() {
		return func() {}, nil
	}

	heartbeat := trace.StartHeartbeat(tracer, every)
	return func() {
		heartbeat.Stop()
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: %v\n", err)
		}
	}, nil
}

// dumpTraceOnPanic writes the ring buffer to stderr when a panic is on its
// way up, then re-panics.
func dumpTraceOnPanic(tracer trace.Tracer) {
	r := recover()
	if r == nil {
		return
	}
	var ring *trace.RingTracer
	switch t := tracer.(type) {
	case *trace.RingTracer:
		ring = t
	case *trace.MultiTracer:
		ring = t.Ring()
	}
	if ring != nil {
		fmt.Fprintln(os.Stderr, "trace: dumping ring buffer after panic")
		_ = ring.Dump(os.Stderr, trace.FormatText)
	}
	panic(r)
}
