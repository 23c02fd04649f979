package syncengine

import "time"

// Event is a structured phase-completion notification, emitted down
// Config.Events if set. Replaces logging-only phase reporting so an
// external collaborator (a future TUI, a metrics exporter) can subscribe
// without scraping log lines.
type Event struct {
	Repo           string
	Phase          string
	At             time.Time
	Duration       time.Duration
	OperationCount int
}

// publish sends evt down e.cfg.Events without blocking the sync pass if
// nobody is listening or the channel is unbuffered and full.
func (e *Engine) publish(evt Event) {
	if e.cfg.Events == nil {
		return
	}
	evt.Repo = e.cfg.RepoURL
	evt.At = time.Now()
	select {
	case e.cfg.Events <- evt:
	default:
	}
}
