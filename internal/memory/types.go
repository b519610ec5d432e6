package memory

import "time"

// Record is a durable distilled fact about a user, keyed by
// (user_id, normalized topic).
type Record struct {
	ID        int64
	UserID    string
	Topic     string // display form, as first seen
	TopicNorm string
	Summary   string
	Weight    float64
	CreatedAt time.Time
	UpdatedAt time.Time
	SourceIDs []string
	Archived  bool
}

// Fact is one distillation output candidate before it is upserted.
type Fact struct {
	UserID     string   `json:"user_id"`
	Topic      string   `json:"topic"`
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
	SourceIDs  []string `json:"source_message_ids"`
}

type distillResult struct {
	Facts []Fact `json:"facts"`
}

// Stats is a compact store snapshot used by status reporting.
type Stats struct {
	Users           int
	ActiveRecords   int
	ArchivedRecords int
	SourceLinks     int
}
