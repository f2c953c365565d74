package diagfmt

import (
	"io"
	"path/filepath"

	"github.com/goccy/go-json"

	"epubwrap/internal/diag"
	"epubwrap/internal/validator"
)

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://json.schemastore.org/sarif-2.1.0.json"
	archiveBase  = "ARCHIVE"
)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool               sarifTool                   `json:"tool"`
	Invocations        []sarifInvocation           `json:"invocations"`
	OriginalURIBaseIDs map[string]sarifArtifactLoc `json:"originalUriBaseIds,omitempty"`
	Results            []sarifResult               `json:"results"`
	Properties         map[string]string           `json:"properties,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version,omitempty"`
	Rules   []sarifRule `json:"rules,omitempty"`
}

type sarifRule struct {
	ID string `json:"id"`
}

type sarifInvocation struct {
	Arguments           []string            `json:"arguments,omitempty"`
	ExecutionSuccessful bool                `json:"executionSuccessful"`
	Notifications       []sarifNotification `json:"toolExecutionNotifications,omitempty"`
}

type sarifNotification struct {
	Level   string       `json:"level"`
	Message sarifMessage `json:"message"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId,omitempty"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifLocation struct {
	Physical sarifPhysical `json:"physicalLocation"`
}

type sarifPhysical struct {
	Artifact sarifArtifactLoc `json:"artifactLocation"`
	Region   *sarifRegion     `json:"region,omitempty"`
}

type sarifArtifactLoc struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId,omitempty"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn,omitempty"`
}

// sarifLevel maps severities onto SARIF result levels.
func sarifLevel(sev diag.Severity) string {
	switch sev {
	case diag.SevFatal, diag.SevError, diag.SevInternalError:
		return "error"
	case diag.SevWarning:
		return "warning"
	default:
		return "note"
	}
}

// Sarif форматирует отчёты в SARIF формат (v2.1.0), один run на архив.
// Внутренние ошибки без файла попадают в toolExecutionNotifications.
func Sarif(w io.Writer, reports []validator.Report, meta SarifRunMeta) error {
	log := sarifLog{Version: sarifVersion, Schema: sarifSchema, Runs: make([]sarifRun, 0, len(reports))}
	for _, rep := range reports {
		log.Runs = append(log.Runs, buildRun(rep, meta))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(log)
}

func buildRun(rep validator.Report, meta SarifRunMeta) sarifRun {
	version := rep.ToolVersion
	if version == "" {
		version = meta.ToolVersion
	}
	run := sarifRun{
		Tool: sarifTool{Driver: sarifDriver{Name: meta.ToolName, Version: version}},
		OriginalURIBaseIDs: map[string]sarifArtifactLoc{
			archiveBase: {URI: filepath.ToSlash(FormatPath(rep.Archive, PathModeAbsolute, meta.BaseDir)) + "/"},
		},
		Results: []sarifResult{},
	}
	if run.Tool.Driver.Name == "" {
		run.Tool.Driver.Name = "epubcheck"
	}
	if rep.TargetVersion != "" {
		run.Properties = map[string]string{"targetVersion": rep.TargetVersion}
	}

	inv := sarifInvocation{Arguments: meta.InvocationArgs, ExecutionSuccessful: true}
	seenRules := make(map[string]struct{})
	for _, d := range rep.Diagnostics {
		switch d.Severity() {
		case diag.SevToolVersion, diag.SevTargetVersion:
			continue
		case diag.SevInternalError:
			if !d.HasFile() {
				inv.ExecutionSuccessful = false
				inv.Notifications = append(inv.Notifications, sarifNotification{
					Level:   "error",
					Message: sarifMessage{Text: d.Message()},
				})
				continue
			}
		}
		res := sarifResult{
			RuleID:  d.Code(),
			Level:   sarifLevel(d.Severity()),
			Message: sarifMessage{Text: d.Message()},
		}
		if d.Code() != "" {
			if _, ok := seenRules[d.Code()]; !ok {
				seenRules[d.Code()] = struct{}{}
				run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, sarifRule{ID: d.Code()})
			}
		}
		if d.HasFile() {
			loc := sarifLocation{Physical: sarifPhysical{
				Artifact: sarifArtifactLoc{URI: d.File(), URIBaseID: archiveBase},
			}}
			if d.HasLine() {
				loc.Physical.Region = &sarifRegion{StartLine: d.Line()}
				if d.HasColumn() {
					loc.Physical.Region.StartColumn = d.Column()
				}
			}
			res.Locations = []sarifLocation{loc}
		}
		run.Results = append(run.Results, res)
	}
	run.Invocations = []sarifInvocation{inv}
	return run
}
