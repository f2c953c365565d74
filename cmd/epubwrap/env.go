package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"epubwrap/internal/config"
	"epubwrap/internal/dcache"
	"epubwrap/internal/logger"
	"epubwrap/internal/trace"
	"epubwrap/internal/validator"
)

// env is what every command needs: settings, logger and tracer.
type env struct {
	loader *config.Loader
	log    *zap.Logger
	level  zap.AtomicLevel
	tracer trace.Tracer
	color  bool
}

// loadEnv resolves the settings file, loads it and builds the logger. Log
// flags win over the file.
func loadEnv(cmd *cobra.Command) (*env, error) {
	root := cmd.Root().PersistentFlags()
	cfgPath, err := root.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	levelFlag, err := root.GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	formatFlag, err := root.GetString("log-format")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-format flag: %w", err)
	}
	colorFlag, err := root.GetString("color")
	if err != nil {
		return nil, fmt.Errorf("failed to get color flag: %w", err)
	}
	color, err := readColorMode(colorFlag, os.Stdout)
	if err != nil {
		return nil, err
	}

	if cfgPath == "" {
		found, ok, err := config.Find(".")
		if err != nil {
			return nil, err
		}
		if ok {
			cfgPath = found
		}
	}

	// до чтения файла логируем по флагам, потом пересобираем
	bootLevel := levelFlag
	if bootLevel == "" {
		bootLevel = config.DefaultLogLevel
	}
	bootFormat := formatFlag
	if bootFormat == "" {
		bootFormat = config.DefaultLogFormat
	}
	log, level := logger.New(bootLevel, logger.Format(bootFormat), logger.Options{})

	loader, err := config.Load(cfgPath, log.Named("config"))
	if err != nil {
		return nil, err
	}
	settings := loader.Current()
	if formatFlag == "" && settings.LogFormat != bootFormat {
		_ = log.Sync()
		log, level = logger.New(bootLevel, logger.Format(settings.LogFormat), logger.Options{})
	}
	if levelFlag == "" {
		level.SetLevel(logger.ParseLevel(settings.LogLevel))
		loader.OnReload(func(s config.Settings) {
			level.SetLevel(logger.ParseLevel(s.LogLevel))
		})
	}

	return &env{
		loader: loader,
		log:    log,
		level:  level,
		tracer: trace.FromContext(cmd.Context()),
		color:  color,
	}, nil
}

// overrides replaces settings from the file with values given on the
// command line, on every read.
type overrides struct {
	base  config.Source
	apply []func(*config.Settings)
}

func (o *overrides) Current() config.Settings {
	s := o.base.Current()
	for _, fn := range o.apply {
		fn(&s)
	}
	return s
}

func (o *overrides) add(fn func(*config.Settings)) { o.apply = append(o.apply, fn) }

// service builds the validator service over src. The cache is opened only
// when enabled.
func (e *env) service(src config.Source, opts ...validator.Option) (*validator.Service, error) {
	settings := src.Current()
	base := []validator.Option{
		validator.WithLogger(e.log),
		validator.WithTracer(e.tracer),
	}
	if settings.CacheEnabled {
		cache, err := dcache.Open(settings.CacheDir, e.log.Named("dcache"))
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		base = append(base, validator.WithCache(cache))
	}
	return validator.New(src, append(base, opts...)...), nil
}

// watch reloads the settings file in the background until ctx ends.
func (e *env) watch(ctx context.Context) {
	if e.loader.Path() == "" {
		return
	}
	go e.loader.Watch(ctx, config.DefaultWatchInterval)
}

func (e *env) close() {
	_ = e.log.Sync()
}

func readColorMode(value string, out *os.File) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return isTerminal(out) && os.Getenv("NO_COLOR") == "", nil
	case "on", "always":
		return true, nil
	case "off", "never":
		return false, nil
	default:
		return false, fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
}
