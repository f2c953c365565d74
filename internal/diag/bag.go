package diag

import "fortio.org/safecast"

// Bag is an ordered, append-only list of diagnostics. It keeps the order in
// which diagnostics were added and never sorts.
type Bag struct {
	items []Diagnostic
}

// NewBag returns an empty bag with room for capHint items.
func NewBag(capHint int) *Bag {
	if capHint < 0 {
		capHint = 0
	}
	return &Bag{items: make([]Diagnostic, 0, capHint)}
}

// Add appends a diagnostic.
func (b *Bag) Add(d Diagnostic) {
	b.items = append(b.items, d)
}

// Len returns the number of diagnostics.
func (b *Bag) Len() int {
	return len(b.items)
}

// Items returns a copy of the diagnostics in insertion order.
func (b *Bag) Items() []Diagnostic {
	out := make([]Diagnostic, len(b.items))
	copy(out, b.items)
	return out
}

// HasProblems reports whether any diagnostic is FATAL, ERROR or INTERNAL_ERROR.
func (b *Bag) HasProblems() bool {
	return HasProblems(b.items)
}

// Count returns the number of diagnostics with the given severity.
func (b *Bag) Count(sev Severity) int {
	return Tally(b.items)[sev]
}

// HasProblems reports whether the slice contains a failing severity.
func HasProblems(diags []Diagnostic) bool {
	for i := range diags {
		if diags[i].severity.IsProblem() {
			return true
		}
	}
	return false
}

// Counts holds per-severity totals.
type Counts map[Severity]uint32

// Tally counts diagnostics per severity.
func Tally(diags []Diagnostic) map[Severity]int {
	out := make(map[Severity]int, len(severityNames))
	for i := range diags {
		out[diags[i].severity]++
	}
	return out
}

// CountsOf is Tally with fixed-width counters, as stored in reports.
func CountsOf(diags []Diagnostic) Counts {
	out := make(Counts, len(severityNames))
	for sev, n := range Tally(diags) {
		c, err := safecast.Conv[uint32](n)
		if err != nil {
			// больше 4 млрд диагностик не бывает, но не падаем
			c = ^uint32(0)
		}
		out[sev] = c
	}
	return out
}

// Counts returns fixed-width per-severity totals.
func (b *Bag) Counts() Counts {
	return CountsOf(b.items)
}
