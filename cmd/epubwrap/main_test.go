package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"epubwrap/internal/config"
	"epubwrap/internal/diag"
	"epubwrap/internal/trace"
	"epubwrap/internal/validator"
)

func TestExpandArchives(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.epub", "a.EPUB", "notes.txt", filepath.Join("sub", "c.epub")} {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := expandArchives([]string{root, "missing.epub"})
	if err != nil {
		t.Fatalf("expandArchives: %v", err)
	}
	want := []string{
		filepath.Join(root, "a.EPUB"),
		filepath.Join(root, "b.epub"),
		filepath.Join(root, "sub", "c.epub"),
		"missing.epub",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFailed(t *testing.T) {
	warn := validator.Report{Diagnostics: []diag.Diagnostic{
		diag.MustNew(diag.SevWarning, "", diag.NoPosition, diag.NoPosition, "w"),
	}}
	bad := validator.Report{Diagnostics: []diag.Diagnostic{diag.Internal("Process timed out")}}

	if failed([]validator.Report{warn}, false) {
		t.Fatalf("warnings alone must not fail")
	}
	if !failed([]validator.Report{warn}, true) {
		t.Fatalf("warnings must fail with --warnings-as-errors")
	}
	if !failed([]validator.Report{warn, bad}, false) {
		t.Fatalf("internal error must fail")
	}
}

func TestOverrides(t *testing.T) {
	base := config.Defaults()
	base.CacheEnabled = true
	src := &overrides{base: config.Static(base)}
	src.add(func(s *config.Settings) { s.CacheEnabled = false })
	src.add(func(s *config.Settings) { s.Timeout = time.Second })

	got := src.Current()
	if got.CacheEnabled || got.Timeout != time.Second || got.PoolSize != base.PoolSize {
		t.Fatalf("overrides not applied: %+v", got)
	}
}

func TestReadModes(t *testing.T) {
	if mode, err := readUIMode(" ON "); err != nil || mode != uiModeOn {
		t.Fatalf("readUIMode: %v %v", mode, err)
	}
	if _, err := readUIMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
	if on, err := readColorMode("always", os.Stdout); err != nil || !on {
		t.Fatalf("readColorMode(always): %v %v", on, err)
	}
	if on, err := readColorMode("off", os.Stdout); err != nil || on {
		t.Fatalf("readColorMode(off): %v %v", on, err)
	}
	if _, err := readColorMode("purple", os.Stdout); err == nil {
		t.Fatalf("expected error")
	}
	if shouldUseTUI(uiModeOff, 10) || !shouldUseTUI(uiModeOn, 1) {
		t.Fatalf("explicit ui modes ignored")
	}
}

func TestWriteReports_Text(t *testing.T) {
	reports := []validator.Report{{
		Archive:     "a.epub",
		Diagnostics: []diag.Diagnostic{diag.MustNew(diag.SevError, "EPUB/a.xhtml", 3, 4, "boom").WithCode("RSC-005")},
	}}
	var buf bytes.Buffer
	if err := writeReports(&buf, reports, validateOptions{format: "text"}, false, nil); err != nil {
		t.Fatalf("writeReports: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[ERROR]boom - EPUB/a.xhtml (3:4)" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "validator.sh")
	body := "#!/bin/sh\necho \"EpubCheck v4.2.6\"\necho \"ERROR(RSC-005): $1/EPUB/a.xhtml(3,4): boom\"\nexit 1\n"
	if err := os.WriteFile(script, []byte(body), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := filepath.Join(dir, config.FileName)
	toml := "[validator]\ncommand = [\"/bin/sh\", \"" + script + "\"]\n[cache]\nenabled = false\n"
	if err := os.WriteFile(cfg, []byte(toml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", cfg, "--log-level", "error", "validate", "--format", "text", "--ui", "off", "book.epub"})
	err := rootCmd.Execute()
	var exit exitError
	if !errors.As(err, &exit) || exit.code != 1 {
		t.Fatalf("expected exit status 1, got %v", err)
	}
	want := "[TOOL VERSION]4.2.6\n[ERROR]boom - book.epub/EPUB/a.xhtml (3:4)\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func validateFlags(c *cobra.Command) {
	f := c.Flags()
	f.String("format", "text", "")
	f.Int("jobs", 0, "")
	f.Int("max-diagnostics", 0, "")
	f.String("paths", "auto", "")
	f.Bool("banners", false, "")
	f.Bool("unexpected", false, "")
	f.Bool("timings", false, "")
	f.Bool("warnings-as-errors", false, "")
	f.String("ui", "off", "")
}

func TestReadValidateOptions_WatchConfig(t *testing.T) {
	c := &cobra.Command{Use: "t"}
	validateFlags(c)
	c.Flags().Bool("watch-config", false, "")
	if err := c.Flags().Set("watch-config", "true"); err != nil {
		t.Fatalf("set: %v", err)
	}
	opts, err := readValidateOptions(c)
	if err != nil {
		t.Fatalf("readValidateOptions: %v", err)
	}
	if !opts.watchConfig {
		t.Fatalf("watch-config not read")
	}

	// флаг не того типа: ошибка, а не молчаливое false
	bad := &cobra.Command{Use: "t"}
	validateFlags(bad)
	bad.Flags().String("watch-config", "yes", "")
	if _, err := readValidateOptions(bad); err == nil || !strings.Contains(err.Error(), "watch-config") {
		t.Fatalf("expected watch-config flag error, got %v", err)
	}
}

func TestReadTraceConfig(t *testing.T) {
	c := &cobra.Command{Use: "t"}
	pf := c.PersistentFlags()
	pf.String("trace", "", "")
	pf.String("trace-level", "off", "")
	pf.String("trace-mode", "stream", "")
	pf.String("trace-format", "auto", "")
	pf.Int("trace-ring-size", 16, "")

	cfg, err := readTraceConfig(c)
	if err != nil {
		t.Fatalf("readTraceConfig: %v", err)
	}
	if cfg.Level != trace.LevelOff {
		t.Fatalf("no output and no level must stay off, got %s", cfg.Level)
	}

	if err := pf.Set("trace", "run.jsonl"); err != nil {
		t.Fatalf("set: %v", err)
	}
	cfg, err = readTraceConfig(c)
	if err != nil {
		t.Fatalf("readTraceConfig: %v", err)
	}
	want := trace.Config{Level: trace.LevelPhase, Mode: trace.ModeStream, Format: trace.FormatAuto, OutputPath: "run.jsonl", RingSize: 16}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}

	if err := pf.Set("trace-format", "yaml"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := readTraceConfig(c); err == nil {
		t.Fatalf("expected error for unknown trace format")
	}
}
