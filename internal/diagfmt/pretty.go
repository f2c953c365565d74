package diagfmt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"epubwrap/internal/diag"
	"epubwrap/internal/validator"
)

type palette struct {
	sev        map[diag.Severity]*color.Color
	path       *color.Color
	code       *color.Color
	dim        *color.Color
	unexpected *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		sev: map[diag.Severity]*color.Color{
			diag.SevFatal:         color.New(color.FgRed, color.Bold),
			diag.SevError:         color.New(color.FgRed),
			diag.SevWarning:       color.New(color.FgYellow),
			diag.SevUsage:         color.New(color.FgCyan),
			diag.SevInfo:          color.New(color.FgBlue),
			diag.SevToolVersion:   color.New(color.Faint),
			diag.SevTargetVersion: color.New(color.Faint),
			diag.SevInternalError: color.New(color.FgMagenta, color.Bold),
		},
		path:       color.New(color.Bold),
		code:       color.New(color.FgHiBlack),
		dim:        color.New(color.Faint),
		unexpected: color.New(color.FgHiYellow),
	}
	all := []*color.Color{p.path, p.code, p.dim, p.unexpected}
	for _, c := range p.sev {
		all = append(all, c)
	}
	for _, c := range all {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Pretty форматирует отчёты в человекочитаемый вид:
// заголовок с архивом и версиями, затем по строке на диагностику
// (<SEV> [<CODE>] <file>:<line>:<col>: <message>), затем итог.
func Pretty(w io.Writer, reports []validator.Report, opts PrettyOpts) error {
	bw := bufio.NewWriter(w)
	pal := newPalette(opts.Color)
	for i, rep := range reports {
		if i > 0 {
			bw.WriteByte('\n')
		}
		writeReport(bw, rep, opts, pal)
	}
	if len(reports) > 1 {
		bw.WriteByte('\n')
		bw.WriteString(batchSummary(reports))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func writeReport(w *bufio.Writer, rep validator.Report, opts PrettyOpts, pal palette) {
	w.WriteString(pal.path.Sprint(FormatPath(rep.Archive, opts.PathMode, opts.BaseDir)))
	if meta := headerMeta(rep); meta != "" {
		w.WriteByte(' ')
		w.WriteString(pal.dim.Sprint("(" + meta + ")"))
	}
	w.WriteByte('\n')

	shown := make([]diag.Diagnostic, 0, len(rep.Diagnostics))
	for _, d := range rep.Diagnostics {
		if isBanner(d.Severity()) && !opts.ShowBanners {
			continue
		}
		shown = append(shown, d)
	}
	labelWidth := 0
	for _, d := range shown {
		labelWidth = max(labelWidth, runewidth.StringWidth(d.Severity().Label()))
	}
	for _, d := range shown {
		writeDiagnostic(w, d, labelWidth, opts.Width, pal)
	}

	if opts.ShowUnexpected {
		for _, line := range rep.Unexpected {
			w.WriteString("  ")
			w.WriteString(pal.unexpected.Sprint("? " + clip(line, opts.Width, 4)))
			w.WriteByte('\n')
		}
	}

	w.WriteString("  ")
	w.WriteString(Summary(rep.Diagnostics))
	if opts.ShowTimings && len(rep.Timings.Phases) > 0 {
		w.WriteString(pal.dim.Sprint("  [" + inlineTimings(rep) + "]"))
	}
	w.WriteByte('\n')
}

func writeDiagnostic(w *bufio.Writer, d diag.Diagnostic, labelWidth, width int, pal palette) {
	label := d.Severity().Label()
	pad := strings.Repeat(" ", labelWidth-runewidth.StringWidth(label))

	var plain strings.Builder
	plain.WriteString("  ")
	plain.WriteString(label)
	plain.WriteString(pad)
	plain.WriteByte(' ')
	if d.Code() != "" {
		plain.WriteString("[" + d.Code() + "] ")
	}
	if loc := location(d); loc != "" {
		plain.WriteString(loc)
		plain.WriteString(": ")
	}
	prefix := runewidth.StringWidth(plain.String())

	w.WriteString("  ")
	w.WriteString(pal.sev[d.Severity()].Sprint(label))
	w.WriteString(pad)
	w.WriteByte(' ')
	if d.Code() != "" {
		w.WriteString(pal.code.Sprint("[" + d.Code() + "]"))
		w.WriteByte(' ')
	}
	if loc := location(d); loc != "" {
		w.WriteString(loc)
		w.WriteString(": ")
	}
	w.WriteString(clip(d.Message(), width, prefix))
	w.WriteByte('\n')
}

// location is `file:line:col` with the absent parts dropped.
func location(d diag.Diagnostic) string {
	if !d.HasFile() {
		return ""
	}
	loc := d.File()
	if d.HasLine() {
		loc += ":" + strconv.Itoa(d.Line())
		if d.HasColumn() {
			loc += ":" + strconv.Itoa(d.Column())
		}
	}
	return loc
}

// clip truncates s so that a line starting at column used fits in width.
func clip(s string, width, used int) string {
	if width <= 0 {
		return s
	}
	room := width - used
	if room < 8 {
		room = 8
	}
	if runewidth.StringWidth(s) <= room {
		return s
	}
	return runewidth.Truncate(s, room, "…")
}

func headerMeta(rep validator.Report) string {
	var parts []string
	if rep.ToolVersion != "" {
		parts = append(parts, "epubcheck "+rep.ToolVersion)
	}
	if rep.TargetVersion != "" {
		parts = append(parts, "EPUB "+rep.TargetVersion)
	}
	if rep.Cached {
		parts = append(parts, "cached")
	}
	return strings.Join(parts, ", ")
}

func isBanner(sev diag.Severity) bool {
	return sev == diag.SevToolVersion || sev == diag.SevTargetVersion
}

var summaryOrder = []diag.Severity{
	diag.SevFatal, diag.SevError, diag.SevInternalError,
	diag.SevWarning, diag.SevUsage, diag.SevInfo,
}

// Summary renders "1 error, 2 warnings" for the findings in diags, or
// "no problems" when there are none.
func Summary(diags []diag.Diagnostic) string {
	counts := diag.Tally(diags)
	var parts []string
	for _, sev := range summaryOrder {
		if n := counts[sev]; n > 0 {
			parts = append(parts, plural(n, strings.ToLower(sev.Label())))
		}
	}
	if len(parts) == 0 {
		return "no problems"
	}
	return strings.Join(parts, ", ")
}

func batchSummary(reports []validator.Report) string {
	failed := 0
	for _, rep := range reports {
		if rep.HasProblems() {
			failed++
		}
	}
	return fmt.Sprintf("%s checked, %d failed", plural(len(reports), "archive"), failed)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

func inlineTimings(rep validator.Report) string {
	parts := make([]string, 0, len(rep.Timings.Phases))
	for _, p := range rep.Timings.Phases {
		parts = append(parts, p.Name+" "+strconv.FormatFloat(p.DurationMS, 'f', 1, 64)+"ms")
	}
	return strings.Join(parts, ", ")
}
