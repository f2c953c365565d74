package validator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"epubwrap/internal/archive"
	"epubwrap/internal/classify"
	"epubwrap/internal/config"
	"epubwrap/internal/dcache"
	"epubwrap/internal/diag"
	"epubwrap/internal/observ"
	"epubwrap/internal/pool"
	"epubwrap/internal/runner"
	"epubwrap/internal/trace"
)

// InterruptedPrefix starts the message of a validation that never got to
// finish because its caller or the service went away.
const InterruptedPrefix = "Interrupted - "

// Validate runs the validator on the archive at path and returns the
// diagnostics in the order they were produced. It never fails: operational
// problems are reported as a single INTERNAL_ERROR diagnostic.
func (s *Service) Validate(ctx context.Context, path string) []diag.Diagnostic {
	rep, err := s.Report(ctx, path)
	if err != nil {
		return []diag.Diagnostic{diag.Internal(InterruptedPrefix + interruption(ctx, err))}
	}
	return rep.Diagnostics
}

// outcome is what a worker hands back for one archive.
type outcome struct {
	diags      []diag.Diagnostic
	unexpected []string
	fault      bool
}

// Report is Validate with the details: timings, unexpected output and
// whether the result came from the cache. The error is non-nil only when
// the work could not run at all (interrupted or service closed).
func (s *Service) Report(ctx context.Context, path string) (Report, error) {
	settings := s.src.Current()
	log := s.log.With(zap.String("archive", path))

	ctx, span := trace.Child(ctx, s.tracer, trace.ScopeRun, "validate")
	span.Set("archive", path)
	timer := observ.NewTimer()
	ctx = observ.WithTimer(ctx, timer)

	rep := Report{Archive: path}
	defer func() {
		span.Set("diagnostics", itoa(len(rep.Diagnostics))).End(timer.Summary())
	}()

	cmd := runner.FromArgv(settings.Command).With(path)
	cmd.Dir = settings.WorkDir

	var key dcache.Key
	useCache := settings.CacheEnabled && s.cache != nil
	if useCache {
		done := timer.Track(observ.PhaseCache)
		k, err := dcache.KeyFor(path, cmd.String()+"\x00"+dcache.ToolStamp(settings.WorkDir, settings.Command))
		if err != nil {
			// нечитаемый архив: кэш не нужен, пусть валидатор сам расскажет
			log.Debug("cache key unavailable", zap.Error(err))
			useCache = false
			done("no key")
		} else {
			key = k
			if cached, ok := s.lookup(key, log); ok {
				done("hit")
				cached.Timings = timer.Report()
				return cached, nil
			}
			done("miss")
		}
	}

	fut, err := submit(s, ctx, settings.PoolSize, func(ctx context.Context) (outcome, error) {
		return s.execute(ctx, cmd, path, settings, log), nil
	})
	if err != nil {
		return rep, err
	}
	out, err := fut.Wait(ctx)
	if err != nil {
		var pe *pool.PanicError
		if errors.As(err, &pe) {
			panic(pe)
		}
		log.Info("validation interrupted", zap.Error(err))
		return rep, err
	}

	rep.Diagnostics = out.diags
	rep.Unexpected = out.unexpected
	rep.ToolVersion, rep.TargetVersion = versionsOf(out.diags)
	rep.Timings = timer.Report()

	if useCache && !out.fault {
		s.store(key, rep, log)
	}
	return rep, nil
}

func (s *Service) execute(ctx context.Context, cmd runner.Command, path string, settings config.Settings, log *zap.Logger) outcome {
	timer := observ.TimerFrom(ctx)
	done := timer.Track(observ.PhaseIndex)
	index := archive.Open(path, log.Named("archive"))
	done(itoa(index.Len()) + " entries")

	cls := classify.New(index,
		classify.WithLogger(log.Named("classify")),
		classify.WithSink(s.sink),
		classify.WithTracer(s.tracer, trace.CurrentSpan(ctx).SpanID),
	)
	r := &runner.Runner{
		Timeout: settings.Timeout,
		Logger:  log.Named("runner"),
		Tracer:  s.tracer,
	}
	res, err := r.Exec(ctx, cmd, cls)
	if err != nil {
		log.Warn("validation failed", zap.Error(err))
		return outcome{diags: runner.FaultDiagnostics(err), fault: true}
	}
	log.Debug("validation finished",
		zap.Int("pid", res.Pid),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("lines", res.Lines))
	return outcome{diags: cls.Diagnostics(), unexpected: cls.Unexpected()}
}

func (s *Service) lookup(key dcache.Key, log *zap.Logger) (Report, bool) {
	var p dcache.Payload
	ok, err := s.cache.Get(key, &p)
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
		return Report{}, false
	}
	if !ok {
		return Report{}, false
	}
	diags := make([]diag.Diagnostic, 0, len(p.Diagnostics))
	for _, r := range p.Diagnostics {
		d, err := diag.FromRecord(r)
		if err != nil {
			log.Warn("cached diagnostic rejected", zap.Error(err))
			return Report{}, false
		}
		diags = append(diags, d)
	}
	return Report{
		Archive:       p.Archive,
		Diagnostics:   diags,
		Unexpected:    p.Unexpected,
		Cached:        true,
		ToolVersion:   p.ToolVersion,
		TargetVersion: p.TargetVersion,
	}, true
}

func (s *Service) store(key dcache.Key, rep Report, log *zap.Logger) {
	records := make([]diag.Record, len(rep.Diagnostics))
	for i, d := range rep.Diagnostics {
		records[i] = d.ToRecord()
	}
	err := s.cache.Put(key, &dcache.Payload{
		Archive:       rep.Archive,
		ToolVersion:   rep.ToolVersion,
		TargetVersion: rep.TargetVersion,
		Diagnostics:   records,
		Unexpected:    rep.Unexpected,
		Timings:       rep.Timings,
		StoredAt:      time.Now(),
	})
	if err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
}

// versionsOf picks the banners out of a diagnostic list.
func versionsOf(diags []diag.Diagnostic) (tool, target string) {
	for _, d := range diags {
		switch d.Severity() {
		case diag.SevToolVersion:
			if tool == "" {
				tool = d.Message()
			}
		case diag.SevTargetVersion:
			if target == "" {
				target = d.Message()
			}
		}
	}
	return tool, target
}
