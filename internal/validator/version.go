package validator

import (
	"context"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"epubwrap/internal/diag"
	"epubwrap/internal/runner"
)

// UnknownVersion is returned by Version when the validator could not tell.
const UnknownVersion = "unknown"

// Version reports the validator's version by running it with the
// configured version arguments. A successful answer is remembered per
// command line; failures are retried on the next call.
func (s *Service) Version(ctx context.Context) string {
	settings := s.src.Current()
	cmd := runner.FromArgv(settings.Command).With(settings.VersionArgs...)
	cmd.Dir = settings.WorkDir
	line := cmd.String()

	s.versionMu.Lock()
	v, ok := s.versions[line]
	s.versionMu.Unlock()
	if ok {
		return v
	}

	fut, err := submit(s, ctx, settings.PoolSize, func(ctx context.Context) (string, error) {
		h := &versionHandler{}
		r := &runner.Runner{
			Timeout: settings.Timeout,
			Logger:  s.log.Named("runner"),
			Tracer:  s.tracer,
		}
		if _, err := r.Exec(ctx, cmd, h); err != nil {
			return "", err
		}
		return h.version, nil
	})
	if err != nil {
		return UnknownVersion
	}
	v, err = fut.Wait(ctx)
	if err != nil || v == "" {
		s.log.Warn("validator version unavailable", zap.String("command", line), zap.Error(err))
		return UnknownVersion
	}

	s.versionMu.Lock()
	s.versions[line] = v
	s.versionMu.Unlock()
	return v
}

// versionHandler keeps the first non-empty line, stripped of the banner
// words the validator puts in front of the number.
type versionHandler struct {
	version string
}

func (h *versionHandler) ProcessLine(line string) bool {
	line = strings.TrimSpace(line)
	if h.version != "" || line == "" {
		return true
	}
	for _, prefix := range []string{"EpubCheck v", "Epubcheck Version ", "EPUBCheck v"} {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			line = rest
			break
		}
	}
	h.version = line
	return true
}

func (h *versionHandler) Diagnostics() []diag.Diagnostic { return nil }

// ToolInfo describes the configured validator.
type ToolInfo struct {
	Raw        string
	Version    *semver.Version
	Constraint string
	Satisfied  bool
}

func (ti ToolInfo) String() string {
	var b strings.Builder
	b.WriteString(ti.Raw)
	if ti.Constraint != "" {
		b.WriteString(" (requires ")
		b.WriteString(ti.Constraint)
		b.WriteString(": ")
		b.WriteString(strconv.FormatBool(ti.Satisfied))
		b.WriteByte(')')
	}
	return b.String()
}

// VersionError reports a validator that does not match the configured
// version constraint.
type VersionError struct {
	Info ToolInfo
}

func (e *VersionError) Error() string {
	return "validator version " + e.Info.Raw + " does not satisfy " + e.Info.Constraint
}

// Probe asks the validator for its version and checks it against the
// configured constraint. With no constraint any answer is acceptable,
// including an unparsable one.
func (s *Service) Probe(ctx context.Context) (ToolInfo, error) {
	settings := s.src.Current()
	info := ToolInfo{
		Raw:        s.Version(ctx),
		Constraint: settings.VersionConstraint,
	}
	if info.Raw != UnknownVersion {
		if v, err := semver.NewVersion(info.Raw); err == nil {
			info.Version = v
		} else {
			s.log.Debug("validator version is not semver", zap.String("version", info.Raw))
		}
	}
	if info.Constraint == "" {
		info.Satisfied = info.Raw != UnknownVersion
		if !info.Satisfied {
			return info, &VersionError{Info: info}
		}
		return info, nil
	}
	c, err := semver.NewConstraint(info.Constraint)
	if err != nil {
		return info, err
	}
	info.Satisfied = info.Version != nil && c.Check(info.Version)
	if !info.Satisfied {
		return info, &VersionError{Info: info}
	}
	return info, nil
}
