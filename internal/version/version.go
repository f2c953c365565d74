// Package version holds build metadata of the epubwrap CLI.
package version

import (
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/fatih/color"
)

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)
)

// These variables can be overridden at build time via -ldflags.
var (
	// Version is the semantic version of the CLI.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// Colored renders Version with major, minor and patch highlighted. A
// version that is not semver is returned as is.
func Colored(enabled bool) string {
	v, err := semver.NewVersion(Version)
	if err != nil {
		return Version
	}
	for _, c := range []*color.Color{versionMajorColor, versionMinorColor, versionPatchColor} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	out := versionMajorColor.Sprint(strconv.FormatUint(v.Major(), 10)) + "." +
		versionMinorColor.Sprint(strconv.FormatUint(v.Minor(), 10)) + "." +
		versionPatchColor.Sprint(strconv.FormatUint(v.Patch(), 10))
	if pre := v.Prerelease(); pre != "" {
		out += "-" + pre
	}
	if meta := v.Metadata(); meta != "" {
		out += "+" + meta
	}
	return out
}
