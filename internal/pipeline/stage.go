package pipeline

import "fmt"

// Stage is a pipeline state.
type Stage string

const (
	Loading            Stage = "loading"
	Rasterizing        Stage = "rasterizing"
	Recognizing        Stage = "recognizing"
	DirectTextFallback Stage = "direct_text_fallback"
	Classifying        Stage = "classifying"
	Extracting         Stage = "extracting"
	Correcting         Stage = "correcting"
	Done               Stage = "done"
	Failed             Stage = "failed"
)

var transitions = map[Stage][]Stage{
	Loading:            {Rasterizing},
	Rasterizing:        {Recognizing, DirectTextFallback},
	Recognizing:        {Classifying},
	DirectTextFallback: {Classifying},
	Classifying:        {Extracting},
	Extracting:         {Correcting},
	Correcting:         {Done},
}

// machine records the path a document takes through the pipeline.
type machine struct {
	current Stage
	history []Stage
}

func newMachine() *machine {
	return &machine{current: Loading, history: []Stage{Loading}}
}

// to moves to next. Failed is reachable from any non-terminal stage.
func (m *machine) to(next Stage) error {
	if m.current == Done || m.current == Failed {
		return fmt.Errorf("pipeline already finished in %s", m.current)
	}
	if next != Failed && !allowed(m.current, next) {
		return fmt.Errorf("illegal transition %s -> %s", m.current, next)
	}
	m.current = next
	m.history = append(m.history, next)
	return nil
}

func allowed(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
