package diagfmt

import (
	"bufio"
	"io"

	"epubwrap/internal/diag"
	"epubwrap/internal/validator"
)

// Text writes one diagnostic per line in the canonical
// `[SEVERITY]message - file (line:col)` form.
func Text(w io.Writer, diags []diag.Diagnostic) error {
	bw := bufio.NewWriter(w)
	for _, d := range diags {
		if _, err := bw.WriteString(d.String()); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Short writes `archive: [SEVERITY]message - file (line:col)` lines for a
// batch, which keeps the output greppable.
func Short(w io.Writer, reports []validator.Report, mode PathMode, base string) error {
	bw := bufio.NewWriter(w)
	for _, rep := range reports {
		path := FormatPath(rep.Archive, mode, base)
		for _, d := range rep.Diagnostics {
			bw.WriteString(path)
			bw.WriteString(": ")
			bw.WriteString(d.String())
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
