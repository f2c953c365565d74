package classify

import (
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"epubwrap/internal/diag"
)

// Rule is one entry of the classifier chain. Pattern must match the whole
// line; Apply turns the submatches into an action.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Apply   func(env Env, m []string) action
}

// action is what a rule asks the state machine to do with a matched line.
type action struct {
	diag       *diag.Diagnostic
	suppress   bool // enter StateSuppressing after this line
	unexpected bool // surface the line on the side channel
}

const (
	RuleIssue         = "issue"
	RuleToolVersion   = "tool-version"
	RuleTargetVersion = "target-version"
	RuleIrrelevant    = "irrelevant"
	RuleClasspath     = "classpath"
	RuleFileNotFound  = "file-not-found"
	RuleException     = "exception"
	RuleCatchAll      = "catch-all"
)

// ClasspathMessage is reported when the validator's JVM cannot load its
// own classes.
const ClasspathMessage = "Classpath configuration error"

var (
	issueRe = regexp.MustCompile(
		`^([A-Z][A-Z_]*)\(([^\s()]*)\): (.*?)(?:\((-?\d+)(?:,(-?\d+))?\))?: (.*)$`)
	toolVersionRe   = regexp.MustCompile(`^(?:EpubCheck v|EPUBCheck v|Epubcheck Version )(\S.*)$`)
	targetVersionRe = regexp.MustCompile(`^Validating using EPUB version (\S+) rules\.$`)
	irrelevantRe    = regexp.MustCompile(`^(?:\s*` +
		`|Check finished with (?:errors|warnings)` +
		`|No errors or warnings detected\.` +
		`|(?i:epubcheck) completed` +
		`|Messages: \d+ fatals? / \d+ errors? / \d+ warnings? / \d+ infos?` +
		`)$`)
	classpathRe    = regexp.MustCompile(`^.*java\.lang\.NoClassDefFoundError: (.*)$`)
	fileNotFoundRe = regexp.MustCompile(`^.*File not found: '(.*)'.*$`)
	exceptionRe    = regexp.MustCompile(`^.*java\.lang\.\S*Exception: (.*)$`)
	catchAllRe     = regexp.MustCompile(`(?s)^.*$`)

	continuationRe = regexp.MustCompile(`^(?:\s+|Caused by:)`)
)

// chain is evaluated top to bottom; the first match wins. The catch-all
// entry must stay last and keeps the chain total.
var chain = []Rule{
	{Name: RuleIssue, Pattern: issueRe, Apply: applyIssue},
	{Name: RuleToolVersion, Pattern: toolVersionRe, Apply: banner(diag.SevToolVersion)},
	{Name: RuleTargetVersion, Pattern: targetVersionRe, Apply: banner(diag.SevTargetVersion)},
	{Name: RuleIrrelevant, Pattern: irrelevantRe, Apply: func(Env, []string) action { return action{} }},
	{Name: RuleClasspath, Pattern: classpathRe, Apply: applyClasspath},
	{Name: RuleFileNotFound, Pattern: fileNotFoundRe, Apply: applyFileNotFound},
	{Name: RuleException, Pattern: exceptionRe, Apply: applyException},
	{Name: RuleCatchAll, Pattern: catchAllRe, Apply: func(Env, []string) action { return action{unexpected: true} }},
}

// Rules returns a copy of the chain in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(chain))
	copy(out, chain)
	return out
}

func applyIssue(env Env, m []string) action {
	sev := diag.SeverityFromTag(m[1], env.log())
	file := ""
	if m[3] != "" {
		file = env.Index.Normalize(m[3])
	}
	line := parseNumber(m[4], env.log())
	col := parseNumber(m[5], env.log())
	d, err := diag.New(sev, file, line, col, m[6])
	if err != nil {
		// "ERROR(X): file: " with nothing after the colon
		d = diag.MustNew(sev, file, line, col, m[0])
	}
	d = d.WithCode(m[2])
	return action{diag: &d}
}

func banner(sev diag.Severity) func(Env, []string) action {
	return func(_ Env, m []string) action {
		d := diag.MustNew(sev, "", diag.NoPosition, diag.NoPosition, m[1])
		return action{diag: &d}
	}
}

func applyClasspath(Env, []string) action {
	d := diag.Internal(ClasspathMessage)
	return action{diag: &d, suppress: true}
}

func applyFileNotFound(env Env, m []string) action {
	file := ""
	if m[1] != "" {
		file = env.Index.Normalize(m[1])
	}
	d := diag.MustNew(diag.SevInternalError, file, diag.NoPosition, diag.NoPosition, m[0])
	return action{diag: &d, suppress: true}
}

func applyException(_ Env, m []string) action {
	msg := m[1]
	if msg == "" {
		msg = m[0]
	}
	d := diag.Internal(msg)
	return action{diag: &d, suppress: true}
}

// parseNumber turns a line/column group into a position. Empty groups and
// values below 1 are absent; a parse failure is logged and also absent.
func parseNumber(s string, log *zap.Logger) int {
	if s == "" {
		return diag.NoPosition
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Warn("couldn't parse position", zap.String("value", s), zap.Error(err))
		return diag.NoPosition
	}
	if n < 1 {
		return diag.NoPosition
	}
	return n
}
