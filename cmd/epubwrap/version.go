package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"epubwrap/internal/version"
)

type versionPayload struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Validator string `json:"validator,omitempty"`
}

var (
	versionFormat        string
	versionShowFull      bool
	versionShowValidator bool
)

func init() {
	versionCmd.Flags().BoolVar(&versionShowFull, "full", false, "include commit hash and build date")
	versionCmd.Flags().BoolVar(&versionShowValidator, "validator", false, "also ask the configured validator for its version")
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show epubwrap build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(versionFormat)
		switch format {
		case "pretty", "json":
			// supported
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}

		payload := versionPayload{
			Tool:    "epubwrap",
			Version: strings.TrimSpace(version.Version),
		}
		if versionShowFull {
			payload.GitCommit = valueOrUnknown(strings.TrimSpace(version.GitCommit))
			payload.BuildDate = valueOrUnknown(strings.TrimSpace(version.BuildDate))
		}
		color := false
		if versionShowValidator {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			color = e.color
			svc, err := e.service(e.loader)
			if err != nil {
				return err
			}
			payload.Validator = svc.Version(cmd.Context())
			svc.Close()
		}

		if format == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		}
		renderVersionPretty(cmd.OutOrStdout(), payload, color)
		return nil
	},
}

func renderVersionPretty(out io.Writer, p versionPayload, color bool) {
	fmt.Fprintf(out, "epubwrap %s\n", version.Colored(color))
	if p.GitCommit != "" {
		fmt.Fprintf(out, "commit:    %s\n", p.GitCommit)
	}
	if p.BuildDate != "" {
		fmt.Fprintf(out, "built:     %s\n", p.BuildDate)
	}
	if p.Validator != "" {
		fmt.Fprintf(out, "validator: %s\n", p.Validator)
	}
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
