package model

import "time"

// Progress is a point-in-time view of a running job's counters.
type Progress struct {
	ProcessedRows int64   `json:"processed_rows"`
	TotalRows     int64   `json:"total_rows"`
	Percent       float64 `json:"percent"`
	Speed         float64 `json:"speed"`
	Stage         string  `json:"stage,omitempty"`
}

// IsZero reports whether p carries no information.
func (p Progress) IsZero() bool {
	return p.ProcessedRows == 0 && p.TotalRows == 0 && p.Percent == 0 && p.Speed == 0 && p.Stage == ""
}

// ProgressEvent is one parsed line of subprocess output.
type ProgressEvent struct {
	Line     string
	Progress Progress
	Parsed   bool
}

// EventType distinguishes broadcast events.
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
)

// Event is what subscribers of the progress broadcaster receive.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	Line      string    `json:"line,omitempty"`
	Message   string    `json:"message,omitempty"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	// Origin identifies the node that produced the event.
	Origin string `json:"origin,omitempty"`
}

// IsTerminal reports whether the event announces a terminal status.
func (e Event) IsTerminal() bool {
	return e.Type == EventStatus && e.Status.IsTerminal()
}

// LogLine is one persisted line of a job's output.
type LogLine struct {
	Seq       int64     `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}
