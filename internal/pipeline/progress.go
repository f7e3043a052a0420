package pipeline

import (
	"log/slog"
	"math"
)

// Progress is one advisory progress event.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
}

// ProgressFunc receives progress events. It must not block for long.
type ProgressFunc func(Progress)

// reporter shields the pipeline from the callback and keeps percentages
// from going backwards.
type reporter struct {
	fn     ProgressFunc
	last   int
	logger *slog.Logger
}

func (r *reporter) emit(stage Stage, percent float64, message string) {
	p := int(math.Round(percent))
	if p < r.last {
		p = r.last
	}
	r.last = p
	if r.fn == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("progress callback panicked", "stage", stage, "panic", v)
		}
	}()
	r.fn(Progress{Percent: p, Message: message, Stage: stage})
}
