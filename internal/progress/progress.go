// Package progress carries incremental status out of a running export.
// The pipeline only knows the Reporter interface; the interactive path
// plugs in a channel feeding a streaming connection, the background path
// a logger, and tests the null reporter.
package progress

import (
	"log"
	"time"

	"github.com/yokitheyo/jira-export/internal/model"
)

// Reporter receives progress events in emission order.
type Reporter interface {
	Report(event model.ProgressEvent)
}

// Null discards everything.
type Null struct{}

func (Null) Report(model.ProgressEvent) {}

// Channel forwards events into a buffered channel without ever blocking
// the pipeline: when the consumer lags, older granularity is sacrificed
// and the event is dropped.
type Channel struct {
	ch chan model.ProgressEvent
}

func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 64
	}
	return &Channel{ch: make(chan model.ProgressEvent, buffer)}
}

func (c *Channel) Report(event model.ProgressEvent) {
	select {
	case c.ch <- event:
	default:
	}
}

// Events returns the receive side for the streaming consumer.
func (c *Channel) Events() <-chan model.ProgressEvent { return c.ch }

// Close signals that no further events will be reported.
func (c *Channel) Close() { close(c.ch) }

// Logger writes each event to a log, the background workers' view.
type Logger struct {
	logger *log.Logger
	jobID  string
}

func NewLogger(logger *log.Logger, jobID string) *Logger {
	return &Logger{logger: logger, jobID: jobID}
}

func (l *Logger) Report(event model.ProgressEvent) {
	if event.KeepAlive {
		return
	}
	l.logger.Printf("job %s: [%s] %s", l.jobID, event.Stage, event.Message)
}

// Composite fans one event out to several reporters.
type Composite struct {
	reporters []Reporter
}

func NewComposite(reporters ...Reporter) *Composite {
	return &Composite{reporters: reporters}
}

func (c *Composite) Report(event model.ProgressEvent) {
	for _, r := range c.reporters {
		r.Report(event)
	}
}

// KeepAlive returns the heartbeat event interleaved during long stages.
func KeepAlive() model.ProgressEvent {
	return model.ProgressEvent{KeepAlive: true, Timestamp: time.Now()}
}
