package classify

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"epubwrap/internal/archive"
	"epubwrap/internal/diag"
)

func run(index *archive.Index, lines ...string) *Classifier {
	c := New(index, WithSink(SinkFunc(func(string) {})))
	for _, l := range lines {
		c.ProcessLine(l)
	}
	return c
}

func records(diags []diag.Diagnostic) []diag.Record {
	out := make([]diag.Record, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.ToRecord())
	}
	return out
}

func TestBanners(t *testing.T) {
	c := run(nil,
		"EpubCheck v4.0.0",
		"Validating using EPUB version 2.0.1 rules.",
	)
	want := []diag.Record{
		{Severity: diag.SevToolVersion, Message: "4.0.0"},
		{Severity: diag.SevTargetVersion, Message: "2.0.1"},
	}
	if diff := cmp.Diff(want, records(c.Diagnostics())); diff != "" {
		t.Fatalf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestToolVersionBannerSpellings(t *testing.T) {
	for _, line := range []string{
		"EpubCheck v4.2.6",
		"EPUBCheck v4.2.6",
		"Epubcheck Version 4.2.6",
	} {
		c := run(nil, line)
		want := []diag.Record{{Severity: diag.SevToolVersion, Message: "4.2.6"}}
		if diff := cmp.Diff(want, records(c.Diagnostics())); diff != "" {
			t.Fatalf("%q: mismatch (-want +got):\n%s", line, diff)
		}
	}
}

func TestIssueLines(t *testing.T) {
	tests := []struct {
		name  string
		index *archive.Index
		line  string
		want  diag.Record
	}{
		{
			name: "line without column",
			line: "WARNING(XXX-001): sample.epub/OEBPS/Styles/stylesheet.css(1288): Token '<' not allowed here",
			want: diag.Record{
				Severity: diag.SevWarning, Code: "XXX-001",
				File: "sample.epub/OEBPS/Styles/stylesheet.css", Line: 1288,
				Message: "Token '<' not allowed here",
			},
		},
		{
			name:  "line without column normalised",
			index: archive.FromEntries("mimetype", "OEBPS/Styles/stylesheet.css"),
			line:  "WARNING(XXX-001): sample.epub/OEBPS/Styles/stylesheet.css(1288): Token '<' not allowed here",
			want: diag.Record{
				Severity: diag.SevWarning, Code: "XXX-001",
				File: "OEBPS/Styles/stylesheet.css", Line: 1288,
				Message: "Token '<' not allowed here",
			},
		},
		{
			name: "file without position",
			line: "WARNING(XXX-001): EmptyDir.epub: zip file contains empty directory emptyDir/",
			want: diag.Record{
				Severity: diag.SevWarning, Code: "XXX-001",
				File: "EmptyDir.epub", Message: "zip file contains empty directory emptyDir/",
			},
		},
		{
			name:  "line and column",
			index: archive.FromEntries("EPUB/lorem.xhtml", "EPUB/lorem.ncx"),
			line:  "ERROR(RSC-012): invalid-ncx.epub/EPUB/lorem.ncx(20,46): 'ch1a': fragment identifier is not defined in 'EPUB/lorem.xhtml'",
			want: diag.Record{
				Severity: diag.SevError, Code: "RSC-012",
				File: "EPUB/lorem.ncx", Line: 20, Column: 46,
				Message: "'ch1a': fragment identifier is not defined in 'EPUB/lorem.xhtml'",
			},
		},
		{
			name: "fatal with negative position",
			line: "FATAL(RSC-016): ./book.epub/OEBPS/Text/doc.html(-1,-1): Fatal Error while parsing file 'The entity \"nbsp\" was referenced, but not declared.'.",
			want: diag.Record{
				Severity: diag.SevFatal, Code: "RSC-016",
				File:    "./book.epub/OEBPS/Text/doc.html",
				Message: "Fatal Error while parsing file 'The entity \"nbsp\" was referenced, but not declared.'.",
			},
		},
		{
			name: "usage",
			line: "USAGE(ACC-009): book.epub/EPUB/nav.xhtml(12,3): Hyperlink missing title",
			want: diag.Record{
				Severity: diag.SevUsage, Code: "ACC-009",
				File: "book.epub/EPUB/nav.xhtml", Line: 12, Column: 3,
				Message: "Hyperlink missing title",
			},
		},
		{
			name: "empty location",
			line: "INFO(CHK-001): : custom message overrides file was found",
			want: diag.Record{
				Severity: diag.SevInfo, Code: "CHK-001",
				Message: "custom message overrides file was found",
			},
		},
		{
			name: "empty message keeps the line",
			line: "ERROR(PKG-999): book.epub: ",
			want: diag.Record{
				Severity: diag.SevError, Code: "PKG-999",
				File: "book.epub", Message: "ERROR(PKG-999): book.epub: ",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := run(tt.index, tt.line)
			if diff := cmp.Diff([]diag.Record{tt.want}, records(c.Diagnostics())); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
			if len(c.Unexpected()) != 0 {
				t.Fatalf("issue line must not be unexpected: %v", c.Unexpected())
			}
		})
	}
}

func TestIssue_UnknownTagBecomesInternalError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(nil, WithLogger(zap.New(core)), WithSink(SinkFunc(func(string) {})))
	c.ProcessLine("HINT(HTM-1): a.xhtml(3,4): use alt")

	got := records(c.Diagnostics())
	want := []diag.Record{{Severity: diag.SevInternalError, Code: "HTM-1", File: "a.xhtml", Line: 3, Column: 4, Message: "use alt"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if logs.FilterMessage("illegal severity tag").Len() != 1 {
		t.Fatalf("expected a warning for the unknown tag, got %v", logs.All())
	}
}

func TestIssue_UnparseableNumberIsAbsent(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(nil, WithLogger(zap.New(core)), WithSink(SinkFunc(func(string) {})))
	c.ProcessLine("ERROR(X-1): a.xhtml(99999999999999999999999,2): boom")

	ds := c.Diagnostics()
	if len(ds) != 1 {
		t.Fatalf("expected one diagnostic, got %d", len(ds))
	}
	if ds[0].HasLine() || ds[0].HasColumn() {
		t.Fatalf("overflowing line must be absent, got %d:%d", ds[0].Line(), ds[0].Column())
	}
	if logs.FilterMessage("couldn't parse position").Len() != 1 {
		t.Fatalf("expected one parse warning, got %v", logs.All())
	}
}

func TestStackTraceSuppression(t *testing.T) {
	c := run(nil,
		"java.lang.NullPointerException: name",
		"\tat some.Frame(Frame.java:1)",
		"\tat other.Frame(Frame.java:2)",
		"Validating using EPUB version 2.0.1 rules.",
	)
	want := []diag.Record{
		{Severity: diag.SevInternalError, Message: "name"},
		{Severity: diag.SevTargetVersion, Message: "2.0.1"},
	}
	if diff := cmp.Diff(want, records(c.Diagnostics())); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if c.State() != StateNormal {
		t.Fatalf("expected NORMAL after a non-continuation line, got %s", c.State())
	}
}

func TestClasspathBanner(t *testing.T) {
	c := run(nil,
		`Exception in thread "main" java.lang.NoClassDefFoundError: com/adobe/epubcheck/tool/Checker`,
		"Caused by: java.lang.ClassNotFoundException: com.adobe.epubcheck.tool.Checker",
		"\tat java.net.URLClassLoader.findClass(URLClassLoader.java:381)",
		"\t... 3 more",
	)
	want := []diag.Record{{Severity: diag.SevInternalError, Message: ClasspathMessage}}
	if diff := cmp.Diff(want, records(c.Diagnostics())); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if c.State() != StateSuppressing {
		t.Fatalf("expected to still be suppressing, got %s", c.State())
	}
}

func TestFileNotFoundBanner(t *testing.T) {
	idx := archive.FromEntries("OEBPS/content.opf")
	line := "Exception: File not found: 'book.epub/OEBPS/content.opf' (No such file)"
	c := run(idx, line, "\tat x.Y(Y.java:1)", "No errors or warnings detected.")

	want := []diag.Record{{Severity: diag.SevInternalError, File: "OEBPS/content.opf", Message: line}}
	if diff := cmp.Diff(want, records(c.Diagnostics())); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGenericException(t *testing.T) {
	c := run(nil, "java.lang.RuntimeException: For files other than epubs, mode must be specified! Default version is 3.0.")
	want := []diag.Record{{
		Severity: diag.SevInternalError,
		Message:  "For files other than epubs, mode must be specified! Default version is 3.0.",
	}}
	if diff := cmp.Diff(want, records(c.Diagnostics())); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestNestedException(t *testing.T) {
	// сообщение берётся после последнего исключения в строке
	c := run(nil, "java.lang.RuntimeException: java.lang.IllegalStateException: inner")
	want := []diag.Record{{Severity: diag.SevInternalError, Message: "inner"}}
	if diff := cmp.Diff(want, records(c.Diagnostics())); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestIrrelevantLines(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"\t",
		"Check finished with errors",
		"Check finished with warnings",
		"No errors or warnings detected.",
		"epubcheck completed",
		"EPUBCheck completed",
		"Messages: 0 fatals / 1 error / 2 warnings / 0 infos",
	}
	for _, l := range lines {
		_, out := Step(StateNormal, l, Env{})
		if out.Rule != RuleIrrelevant {
			t.Fatalf("%q: expected irrelevant rule, got %q", l, out.Rule)
		}
		if out.Diagnostic != nil || out.Unexpected {
			t.Fatalf("%q: irrelevant lines must produce nothing", l)
		}
	}
}

func TestUnexpectedOutput(t *testing.T) {
	var buf bytes.Buffer
	c := New(nil, WithSink(NewWriterSink(&buf)))
	c.ProcessLine("Picked up _JAVA_OPTIONS: -Xmx512m")

	if len(c.Diagnostics()) != 0 {
		t.Fatalf("unexpected output must not become a diagnostic")
	}
	if got := c.Unexpected(); len(got) != 1 || got[0] != "Picked up _JAVA_OPTIONS: -Xmx512m" {
		t.Fatalf("unexpected side channel: %v", got)
	}
	if buf.String() != "unexpected output:Picked up _JAVA_OPTIONS: -Xmx512m\n" {
		t.Fatalf("writer sink got %q", buf.String())
	}
}

func TestLogSinkWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(nil, WithLogger(zap.New(core)))
	c.ProcessLine("garbage")
	if logs.FilterMessage("unexpected output").Len() != 1 {
		t.Fatalf("default sink should log a warning, got %v", logs.All())
	}
}

func TestStep_IsTotal(t *testing.T) {
	lines := []string{
		"",
		"\x00\xff\xfe",
		"(((((",
		"ERROR(",
		"ERROR(X): ",
		"Caused by:",
		strings.Repeat("x", 1<<16),
		"line\nwith newline",
		"Exception: ",
	}
	for _, state := range []State{StateNormal, StateSuppressing} {
		for _, l := range lines {
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("Step(%s, %.20q) panicked: %v", state, l, r)
					}
				}()
				Step(state, l, Env{})
			}()
		}
	}
}

func TestStep_SuppressingReprocessesLine(t *testing.T) {
	next, out := Step(StateSuppressing, "EpubCheck v4.2.6", Env{})
	if next != StateNormal {
		t.Fatalf("expected NORMAL, got %s", next)
	}
	if out.Diagnostic == nil || out.Diagnostic.Severity() != diag.SevToolVersion {
		t.Fatalf("line leaving suppression must be classified, got %+v", out)
	}

	next, out = Step(StateSuppressing, "Caused by: java.io.IOException: x", Env{})
	if next != StateSuppressing || !out.Suppressed || out.Diagnostic != nil {
		t.Fatalf("caused-by line must be dropped, got %s %+v", next, out)
	}
}

func TestStep_PanicsWithoutCatchAll(t *testing.T) {
	rules := Rules()
	rules = rules[:len(rules)-1]

	defer func() {
		r := recover()
		err, ok := r.(error)
		var unmatched *UnmatchedLineError
		if !ok || !errors.As(err, &unmatched) {
			t.Fatalf("expected *UnmatchedLineError panic, got %v", r)
		}
		if unmatched.Line != "garbage" {
			t.Fatalf("unexpected line in error: %q", unmatched.Line)
		}
	}()
	step(rules, StateNormal, "garbage", Env{})
}

func TestChainEndsWithCatchAll(t *testing.T) {
	rules := Rules()
	if rules[len(rules)-1].Name != RuleCatchAll {
		t.Fatalf("last rule must be the catch-all, got %s", rules[len(rules)-1].Name)
	}
}

func TestOrderIsPreserved(t *testing.T) {
	c := run(nil,
		"EpubCheck v4.2.6",
		"Validating using EPUB version 3.2 rules.",
		"ERROR(RSC-005): b.epub/EPUB/a.xhtml(1,1): first",
		"garbage in between",
		"WARNING(CSS-008): b.epub/EPUB/s.css(2): second",
		"ERROR(RSC-005): b.epub/EPUB/a.xhtml(3,1): third",
		"Check finished with errors",
	)
	var got []string
	for _, d := range c.Diagnostics() {
		got = append(got, d.Message())
	}
	want := []string{"4.2.6", "3.2", "first", "second", "third"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if c.Lines() != 7 {
		t.Fatalf("expected 7 lines processed, got %d", c.Lines())
	}
}

func TestWithReporter_SeesDiagnosticsAsProduced(t *testing.T) {
	var seen []string
	c := New(nil,
		WithSink(SinkFunc(func(string) {})),
		WithReporter(diag.ReporterFunc(func(d diag.Diagnostic) {
			seen = append(seen, d.Message())
		})),
	)
	c.ProcessLine("EpubCheck v4.2.6")
	if diff := cmp.Diff([]string{"4.2.6"}, seen); diff != "" {
		t.Fatalf("reporter lagged behind (-want +got):\n%s", diff)
	}
	c.ProcessLine("ERROR(RSC-005): b.epub/EPUB/a.xhtml(1,1): boom")
	if len(seen) != 2 || seen[1] != "boom" {
		t.Fatalf("expected forwarded error, got %v", seen)
	}
	// bag keeps its copy too
	if len(c.Diagnostics()) != 2 {
		t.Fatalf("expected 2 diagnostics in bag, got %d", len(c.Diagnostics()))
	}
}
