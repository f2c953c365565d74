package diagfmt

// PathMode specifies how archive paths are displayed.
type PathMode uint8

const (
	// PathModeAuto shows paths below the base directory relative to it and
	// leaves the rest as given.
	PathModeAuto PathMode = iota
	// PathModeAbsolute always uses absolute paths.
	PathModeAbsolute
	PathModeRelative
	PathModeBasename
)

// ParsePathMode maps a flag value to a PathMode.
func ParsePathMode(s string) (PathMode, bool) {
	switch s {
	case "", "auto":
		return PathModeAuto, true
	case "absolute", "abs":
		return PathModeAbsolute, true
	case "relative", "rel":
		return PathModeRelative, true
	case "basename", "base":
		return PathModeBasename, true
	}
	return PathModeAuto, false
}

// PrettyOpts configures pretty-printing of reports.
type PrettyOpts struct {
	Color          bool
	PathMode       PathMode
	BaseDir        string // для relative/auto, пусто - текущая директория
	Width          int    // максимальная ширина строки, 0 - не ограничено
	ShowBanners    bool   // печатать TOOL VERSION / TARGET VERSION
	ShowUnexpected bool
	ShowTimings    bool
}

// JSONOpts configures JSON output of reports.
type JSONOpts struct {
	PathMode          PathMode
	BaseDir           string
	Max               int // обрезка вывода на отчёт, не Report
	IncludeUnexpected bool
	IncludeTimings    bool
	Indent            bool
}

// SarifRunMeta provides metadata for SARIF output.
type SarifRunMeta struct {
	ToolName       string
	ToolVersion    string
	InvocationArgs []string
	BaseDir        string
}
