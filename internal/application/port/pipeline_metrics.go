package port

// Flush triggers reported to PipelineMetrics.
const (
	FlushTriggerSize   = "size"
	FlushTriggerTimer  = "timer"
	FlushTriggerManual = "manual"
	FlushTriggerClose  = "close"

	// FlushTriggerReconfigure drains the queue when batch mode is switched off.
	FlushTriggerReconfigure = "reconfigure"
)

// Write modes reported to PipelineMetrics.
const (
	WriteModeSingle = "single"
	WriteModeBatch  = "batch"
)

// PipelineMetrics receives counters from the event pipeline.
type PipelineMetrics interface {
	// EventProcessed records the terminal outcome of one logging call.
	EventProcessed(level, outcome string)

	// WriteAttempt records one remote write attempt.
	WriteAttempt(mode string, success bool)

	// BatchFlushed records one flush that actually submitted a snapshot.
	BatchFlushed(trigger string, size int, success bool)

	// QueueDepth records the batch queue length after a change.
	QueueDepth(depth int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) EventProcessed(string, string)  {}
func (NopMetrics) WriteAttempt(string, bool)      {}
func (NopMetrics) BatchFlushed(string, int, bool) {}
func (NopMetrics) QueueDepth(int)                 {}

// FanoutMetrics forwards every call to each backend in order.
type FanoutMetrics []PipelineMetrics

func (f FanoutMetrics) EventProcessed(level, outcome string) {
	for _, m := range f {
		m.EventProcessed(level, outcome)
	}
}

func (f FanoutMetrics) WriteAttempt(mode string, success bool) {
	for _, m := range f {
		m.WriteAttempt(mode, success)
	}
}

func (f FanoutMetrics) BatchFlushed(trigger string, size int, success bool) {
	for _, m := range f {
		m.BatchFlushed(trigger, size, success)
	}
}

func (f FanoutMetrics) QueueDepth(depth int) {
	for _, m := range f {
		m.QueueDepth(depth)
	}
}
