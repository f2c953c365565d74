package classify

import (
	"go.uber.org/zap"

	"epubwrap/internal/archive"
	"epubwrap/internal/diag"
	"epubwrap/internal/trace"
)

// Classifier feeds lines of one validation run through Step and collects
// the resulting diagnostics in order. Not safe for concurrent use.
type Classifier struct {
	state      State
	env        Env
	bag        *diag.Bag
	report     diag.Reporter
	sink       UnexpectedSink
	unexpected []string
	tracer     trace.Tracer
	parentSpan uint64
	lines      int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger used for rule warnings.
func WithLogger(log *zap.Logger) Option {
	return func(c *Classifier) {
		if log != nil {
			c.env.Log = log
		}
	}
}

// WithSink routes unexpected output lines to s in addition to Unexpected().
func WithSink(s UnexpectedSink) Option {
	return func(c *Classifier) { c.sink = s }
}

// WithReporter also hands every diagnostic to r as soon as it is
// produced, ahead of Diagnostics().
func WithReporter(r diag.Reporter) Option {
	return func(c *Classifier) {
		if r != nil {
			c.report = diag.MultiReporter{c.report, r}
		}
	}
}

// WithTracer emits a ScopeLine point per classified line under parent.
func WithTracer(t trace.Tracer, parent uint64) Option {
	return func(c *Classifier) {
		if t != nil {
			c.tracer = t
			c.parentSpan = parent
		}
	}
}

// New returns a classifier in StateNormal. index may be nil.
func New(index *archive.Index, opts ...Option) *Classifier {
	bag := diag.NewBag(16)
	c := &Classifier{
		env:    Env{Index: index, Log: zap.NewNop()},
		bag:    bag,
		report: diag.BagReporter{Bag: bag},
		tracer: trace.Nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = LogSink{Log: c.env.Log}
	}
	return c
}

// ProcessLine classifies one line. It always returns true: the classifier
// wants every line until end of stream.
func (c *Classifier) ProcessLine(line string) bool {
	c.lines++
	next, out := Step(c.state, line, c.env)

	if c.tracer.Enabled() {
		detail := out.Rule
		if out.Suppressed {
			detail = "suppressed"
		}
		trace.Point(c.tracer, trace.ScopeLine, "line", c.parentSpan, detail)
	}
	if next != c.state {
		c.env.log().Debug("parser state change",
			zap.Stringer("from", c.state), zap.Stringer("to", next), zap.Int("line", c.lines))
	}
	c.state = next

	if out.Diagnostic != nil {
		c.report.Report(*out.Diagnostic)
	}
	if out.Unexpected {
		c.unexpected = append(c.unexpected, line)
		c.sink.Unexpected(line)
	}
	return true
}

// Diagnostics returns the diagnostics collected so far, in line order.
func (c *Classifier) Diagnostics() []diag.Diagnostic {
	return c.bag.Items()
}

// Unexpected returns the lines that went to the side channel.
func (c *Classifier) Unexpected() []string {
	out := make([]string, len(c.unexpected))
	copy(out, c.unexpected)
	return out
}

// State returns the current parser state.
func (c *Classifier) State() State {
	return c.state
}

// Lines returns how many lines were processed.
func (c *Classifier) Lines() int {
	return c.lines
}
