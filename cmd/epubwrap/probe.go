package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"epubwrap/internal/validator"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the configured validator runs and matches the version constraint",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	settings := e.loader.Current()
	svc, err := e.service(e.loader)
	if err != nil {
		return err
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "command:    %s\n", settings.CommandLine())
	info, err := svc.Probe(cmd.Context())
	fmt.Fprintf(out, "version:    %s\n", info.Raw)
	if info.Constraint != "" {
		fmt.Fprintf(out, "constraint: %s\n", info.Constraint)
	}
	var verr *validator.VersionError
	switch {
	case errors.As(err, &verr):
		fmt.Fprintln(out, "status:     unusable")
		return exitError{code: 1}
	case err != nil:
		return fmt.Errorf("invalid version constraint: %w", err)
	}
	fmt.Fprintln(out, "status:     ok")
	return nil
}
