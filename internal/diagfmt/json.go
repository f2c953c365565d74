package diagfmt

import (
	"io"

	"github.com/goccy/go-json"

	"epubwrap/internal/diag"
	"epubwrap/internal/observ"
	"epubwrap/internal/validator"
)

// DiagnosticJSON представляет диагностику в JSON формате
type DiagnosticJSON struct {
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// ReportJSON представляет отчёт по одному архиву
type ReportJSON struct {
	Archive       string            `json:"archive"`
	Cached        bool              `json:"cached,omitempty"`
	ToolVersion   string            `json:"tool_version,omitempty"`
	TargetVersion string            `json:"target_version,omitempty"`
	Problems      bool              `json:"problems"`
	Counts        map[string]uint32 `json:"counts"`
	Diagnostics   []DiagnosticJSON  `json:"diagnostics"`
	Omitted       int               `json:"omitted,omitempty"`
	Unexpected    []string          `json:"unexpected,omitempty"`
	Timings       *observ.Report    `json:"timings,omitempty"`
}

// Output представляет корневую структуру JSON вывода
type Output struct {
	Reports []ReportJSON `json:"reports"`
	Count   int          `json:"count"`
	Failed  int          `json:"failed"`
}

// MakeDiagnostic converts one diagnostic. Absent positions are omitted.
func MakeDiagnostic(d diag.Diagnostic) DiagnosticJSON {
	r := d.ToRecord()
	return DiagnosticJSON{
		Severity: r.Severity.String(),
		Code:     r.Code,
		Message:  r.Message,
		File:     r.File,
		Line:     r.Line,
		Column:   r.Column,
	}
}

// BuildReport формирует JSON-структуру одного отчёта без сериализации.
func BuildReport(rep validator.Report, opts JSONOpts) ReportJSON {
	items := rep.Diagnostics
	n := len(items)
	if opts.Max > 0 && opts.Max < n {
		n = opts.Max
	}
	out := ReportJSON{
		Archive:       FormatPath(rep.Archive, opts.PathMode, opts.BaseDir),
		Cached:        rep.Cached,
		ToolVersion:   rep.ToolVersion,
		TargetVersion: rep.TargetVersion,
		Problems:      rep.HasProblems(),
		Counts:        make(map[string]uint32),
		Diagnostics:   make([]DiagnosticJSON, 0, n),
		Omitted:       len(items) - n,
	}
	// счётчики по всем диагностикам, даже если список обрезан
	for sev, c := range diag.CountsOf(items) {
		out.Counts[sev.String()] = c
	}
	for i := range n {
		out.Diagnostics = append(out.Diagnostics, MakeDiagnostic(items[i]))
	}
	if opts.IncludeUnexpected && len(rep.Unexpected) > 0 {
		out.Unexpected = append([]string(nil), rep.Unexpected...)
	}
	if opts.IncludeTimings {
		t := rep.Timings
		out.Timings = &t
	}
	return out
}

// BuildOutput формирует структуру JSON-вывода для пачки отчётов.
func BuildOutput(reports []validator.Report, opts JSONOpts) Output {
	out := Output{Reports: make([]ReportJSON, 0, len(reports)), Count: len(reports)}
	for _, rep := range reports {
		r := BuildReport(rep, opts)
		if r.Problems {
			out.Failed++
		}
		out.Reports = append(out.Reports, r)
	}
	return out
}

// JSON форматирует отчёты в JSON формат.
func JSON(w io.Writer, reports []validator.Report, opts JSONOpts) error {
	enc := json.NewEncoder(w)
	if opts.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(BuildOutput(reports, opts))
}
