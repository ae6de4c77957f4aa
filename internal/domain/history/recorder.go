package history

// Recorder receives history events for metrics.
type Recorder interface {
	// Appended is called once per committed-or-pending appended record.
	Appended(table string, op Operation)

	// Rejected is called when a mutation or a guarded operation is refused.
	Rejected(table, code string)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Appended(string, Operation) {}
func (NopRecorder) Rejected(string, string)    {}
