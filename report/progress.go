// Package report surfaces run progress, per-SKU outcomes and the error view.
package report

import (
	"log/slog"

	"github.com/aluiziolira/go-dropbox-links/models"
)

// Stage names a phase of a run.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageCollect Stage = "collect"
)

// Event marks the start of work on one input pair. Index is 1-based.
type Event struct {
	Stage Stage
	Index int
	Total int
	SKU   string
}

// Progress receives advisory updates while a run executes. Implementations
// must not influence control flow.
type Progress interface {
	Advance(Event)
	Done(models.Outcome)
}

// Nop discards every update.
type Nop struct{}

func (Nop) Advance(Event)       {}
func (Nop) Done(models.Outcome) {}

// LogProgress writes updates through a slog logger.
type LogProgress struct {
	Logger *slog.Logger
}

// NewLogProgress logs through logger, or the default logger when nil.
func NewLogProgress(logger *slog.Logger) *LogProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgress{Logger: logger}
}

// Advance logs the stage position.
func (lp *LogProgress) Advance(e Event) {
	msg := "collecting links"
	if e.Stage == StageResolve {
		msg = "resolving link"
	}
	lp.Logger.Info(msg,
		slog.String("stage", string(e.Stage)),
		slog.Int("index", e.Index),
		slog.Int("total", e.Total),
		slog.String("sku", e.SKU),
	)
}

// Done logs the terminal outcome of one SKU.
func (lp *LogProgress) Done(o models.Outcome) {
	attrs := []any{
		slog.String("sku", o.Pair.SKU),
		slog.String("status", string(o.Status)),
		slog.Int("images", o.Count),
	}
	if o.Status == models.OutcomeUnresolved {
		lp.Logger.Warn(o.Summary(), attrs...)
		return
	}
	lp.Logger.Info(o.Summary(), attrs...)
}
