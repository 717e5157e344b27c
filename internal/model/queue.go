package model

import "time"

// QueueMessage is the unit of work carried by the durable ingestion queue.
// Consumers must tolerate re-delivery: a crash between pop and ack re-runs
// the message, and the store upsert is idempotent under that.
type QueueMessage struct {
	State              AircraftState `json:"state"`
	Source             DataSource    `json:"source"`
	SourcePriority     int           `json:"source_priority"`
	IngestionTimestamp int64         `json:"ingestion_timestamp"` // epoch ms
	Retries            int           `json:"retries"`
	AvailableAt        int64         `json:"available_at,omitempty"` // epoch ms, delayed lane score
	SkipHistory        bool          `json:"skip_history,omitempty"`
}

// NewQueueMessage wraps a state for enqueueing, stamping provenance from the
// state's own source.
func NewQueueMessage(st AircraftState, skipHistory bool) QueueMessage {
	return QueueMessage{
		State:              st,
		Source:             st.DataSource,
		SourcePriority:     st.SourcePriority,
		IngestionTimestamp: time.Now().UnixMilli(),
		SkipHistory:        skipHistory,
	}
}
