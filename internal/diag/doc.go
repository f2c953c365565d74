// Package diag defines the diagnostic model produced by a validation run.
//
// # Data model
//
// Diagnostic is an immutable value. It carries:
//
//   - Severity – one of FATAL, ERROR, WARNING, USAGE, INFO (taken from the
//     validator's own tags), TOOL_VERSION and TARGET_VERSION (banners), and
//     INTERNAL_ERROR (wrapper-side faults: launch, timeout, interruption).
//   - Code – the validator's message id (e.g. RSC-012) when it printed one.
//   - File – optional path, already normalised against the archive entries.
//   - Line/Column – optional 1-based positions; NoPosition when absent.
//   - Message – never empty; New rejects an empty message with ErrEmptyMessage.
//
// Diagnostics are kept in the order their source lines were observed. Bag is
// the append-only container used while a run is in progress; it never sorts.
//
// # Scope
//
// Package diag does no formatting beyond Diagnostic.String (the
// `[SEVERITY]message - file (line:col)` shape). Renderers live in
// internal/diagfmt, classification of validator output in internal/classify.
package diag
