package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"epubwrap/internal/config"
	"epubwrap/internal/diag"
	"epubwrap/internal/diagfmt"
	"epubwrap/internal/trace"
	"epubwrap/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flags] <archive.epub|directory>...",
	Short: "Validate EPUB archives",
	Long:  `Run the validator on each archive (directories are searched for *.epub) and print the diagnostics. Exits with 1 when any archive has problems`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

// init registers the flags of the validate command.
func init() {
	validateCmd.Flags().String("format", "pretty", "output format (pretty|text|short|json|sarif)")
	validateCmd.Flags().Int("jobs", 0, "max archives in flight (0 = pool size)")
	validateCmd.Flags().Int("max-diagnostics", 0, "maximum diagnostics per archive in json output (0 = all)")
	validateCmd.Flags().String("paths", "auto", "archive path display (auto|absolute|relative|basename)")
	validateCmd.Flags().Bool("banners", false, "show tool and target version lines in pretty output")
	validateCmd.Flags().Bool("unexpected", false, "show validator output that matched no rule")
	validateCmd.Flags().Bool("timings", false, "show per-phase timings")
	validateCmd.Flags().Bool("warnings-as-errors", false, "exit with 1 on warnings too")
	validateCmd.Flags().Bool("no-cache", false, "ignore the report cache")
	validateCmd.Flags().Duration("timeout", 0, "override the validator time budget")
	validateCmd.Flags().Int("pool-size", 0, "override the number of concurrent validator processes")
	validateCmd.Flags().String("ui", "auto", "progress view (auto|on|off)")
	validateCmd.Flags().Bool("watch-config", false, "reload the settings file while running")
}

type validateOptions struct {
	format           string
	jobs             int
	maxDiagnostics   int
	pathMode         diagfmt.PathMode
	banners          bool
	unexpected       bool
	timings          bool
	warningsAsErrors bool
	watchConfig      bool
	ui               uiMode
}

func readValidateOptions(cmd *cobra.Command) (validateOptions, error) {
	var opts validateOptions
	var err error
	flags := cmd.Flags()
	if opts.format, err = flags.GetString("format"); err != nil {
		return opts, fmt.Errorf("failed to get format flag: %w", err)
	}
	opts.format = strings.ToLower(opts.format)
	switch opts.format {
	case "pretty", "text", "short", "json", "sarif":
	default:
		return opts, fmt.Errorf("unknown format %q (must be pretty, text, short, json or sarif)", opts.format)
	}
	if opts.jobs, err = flags.GetInt("jobs"); err != nil {
		return opts, fmt.Errorf("failed to get jobs flag: %w", err)
	}
	if opts.maxDiagnostics, err = flags.GetInt("max-diagnostics"); err != nil {
		return opts, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	pathStr, err := flags.GetString("paths")
	if err != nil {
		return opts, fmt.Errorf("failed to get paths flag: %w", err)
	}
	var ok bool
	if opts.pathMode, ok = diagfmt.ParsePathMode(pathStr); !ok {
		return opts, fmt.Errorf("invalid --paths value %q", pathStr)
	}
	if opts.banners, err = flags.GetBool("banners"); err != nil {
		return opts, fmt.Errorf("failed to get banners flag: %w", err)
	}
	if opts.unexpected, err = flags.GetBool("unexpected"); err != nil {
		return opts, fmt.Errorf("failed to get unexpected flag: %w", err)
	}
	if opts.timings, err = flags.GetBool("timings"); err != nil {
		return opts, fmt.Errorf("failed to get timings flag: %w", err)
	}
	if opts.warningsAsErrors, err = flags.GetBool("warnings-as-errors"); err != nil {
		return opts, fmt.Errorf("failed to get warnings-as-errors flag: %w", err)
	}
	if opts.watchConfig, err = flags.GetBool("watch-config"); err != nil {
		return opts, fmt.Errorf("failed to get watch-config flag: %w", err)
	}
	uiStr, err := flags.GetString("ui")
	if err != nil {
		return opts, fmt.Errorf("failed to get ui flag: %w", err)
	}
	if opts.ui, err = readUIMode(uiStr); err != nil {
		return opts, err
	}
	return opts, nil
}

// settingsOverrides turns the override flags into a Source.
func settingsOverrides(cmd *cobra.Command, base config.Source) (config.Source, error) {
	src := &overrides{base: base}
	flags := cmd.Flags()
	if noCache, err := flags.GetBool("no-cache"); err != nil {
		return nil, fmt.Errorf("failed to get no-cache flag: %w", err)
	} else if noCache {
		src.add(func(s *config.Settings) { s.CacheEnabled = false })
	}
	if timeout, err := flags.GetDuration("timeout"); err != nil {
		return nil, fmt.Errorf("failed to get timeout flag: %w", err)
	} else if timeout > 0 {
		src.add(func(s *config.Settings) { s.Timeout = timeout })
	}
	if size, err := flags.GetInt("pool-size"); err != nil {
		return nil, fmt.Errorf("failed to get pool-size flag: %w", err)
	} else if size > 0 {
		src.add(func(s *config.Settings) { s.PoolSize = size })
	}
	return src, nil
}

// runValidate executes the "validate" command: it expands the arguments to
// archives, validates them through the pool and prints the reports in the
// chosen format.
func runValidate(cmd *cobra.Command, args []string) error {
	opts, err := readValidateOptions(cmd)
	if err != nil {
		return err
	}
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	defer dumpTraceOnPanic(e.tracer)

	archives, err := expandArchives(args)
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		return fmt.Errorf("no .epub archives found in %s", strings.Join(args, ", "))
	}

	src, err := settingsOverrides(cmd, e.loader)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if opts.watchConfig {
		e.watch(ctx)
	}

	ctx, span := trace.Child(ctx, e.tracer, trace.ScopeService, "validate")
	span.Set("archives", strconv.Itoa(len(archives)))

	var reports []validator.Report
	if shouldUseTUI(opts.ui, len(archives)) {
		reports, err = runBatchWithUI(ctx, e, src, archives, opts.jobs)
	} else {
		var svc *validator.Service
		svc, err = e.service(src)
		if err != nil {
			span.EndErr(err)
			return err
		}
		reports, err = svc.ValidateAll(ctx, archives, opts.jobs)
		svc.Close()
	}
	span.EndErr(err)
	if err != nil {
		// прерванные архивы всё равно показываем
		e.log.Warn("batch interrupted", zap.Error(err))
		for i := range reports {
			if reports[i].Archive == "" {
				reports[i].Archive = archives[i]
			}
			if len(reports[i].Diagnostics) == 0 {
				reports[i].Diagnostics = []diag.Diagnostic{diag.Internal(validator.InterruptedPrefix + err.Error())}
			}
		}
	}

	if err := writeReports(cmd.OutOrStdout(), reports, opts, e.color, os.Args[1:]); err != nil {
		return err
	}
	if failed(reports, opts.warningsAsErrors) {
		return exitError{code: 1}
	}
	return nil
}

func writeReports(w io.Writer, reports []validator.Report, opts validateOptions, color bool, args []string) error {
	switch opts.format {
	case "text":
		for _, rep := range reports {
			if err := diagfmt.Text(w, rep.Diagnostics); err != nil {
				return err
			}
		}
		return nil
	case "short":
		return diagfmt.Short(w, reports, opts.pathMode, "")
	case "json":
		return diagfmt.JSON(w, reports, diagfmt.JSONOpts{
			PathMode:          opts.pathMode,
			Max:               opts.maxDiagnostics,
			IncludeUnexpected: opts.unexpected,
			IncludeTimings:    opts.timings,
			Indent:            true,
		})
	case "sarif":
		return diagfmt.Sarif(w, reports, diagfmt.SarifRunMeta{
			ToolName:       "epubcheck",
			InvocationArgs: args,
		})
	default:
		width := 0
		if f, ok := w.(*os.File); ok && isTerminal(f) {
			width = terminalWidth(f)
		}
		return diagfmt.Pretty(w, reports, diagfmt.PrettyOpts{
			Color:          color,
			PathMode:       opts.pathMode,
			Width:          width,
			ShowBanners:    opts.banners,
			ShowUnexpected: opts.unexpected,
			ShowTimings:    opts.timings,
		})
	}
}

func failed(reports []validator.Report, warningsAsErrors bool) bool {
	for _, rep := range reports {
		if rep.HasProblems() {
			return true
		}
		if warningsAsErrors && diag.Tally(rep.Diagnostics)[diag.SevWarning] > 0 {
			return true
		}
	}
	return false
}

// expandArchives keeps files as given and replaces directories with the
// *.epub files below them, in lexical order.
func expandArchives(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			// несуществующий файл отдаём валидатору: он сам сообщит
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".epub") {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
	}
	return out, nil
}
