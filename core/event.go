package core

// EventType tags the events a batch emits to its observer.
type EventType string

const (
	EventSuccess  EventType = "success"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is the transport-neutral wire form of outcomes and summaries. Field
// names follow the desktop UI contract the engine was built for; durations
// are in milliseconds.
type Event struct {
	Type     EventType        `json:"type"`
	Index    int              `json:"index"`
	Success  *SuccessPayload  `json:"success,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`
}

type SuccessPayload struct {
	OriginalFileName string `json:"OriginalFileName"`
	OriginalFileSize int64  `json:"OriginalFileSize"`
	NewFileName      string `json:"NewFileName"`
	NewFileSize      int64  `json:"NewFileSize"`
	ConversionTime   int64  `json:"ConversionTime"`
	Thumbnail        []byte `json:"Thumbnail"`
}

type ErrorPayload struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type CompletePayload struct {
	BatchID   string `json:"BatchID"`
	Total     int    `json:"Total"`
	Succeeded int    `json:"Succeeded"`
	Failed    int    `json:"Failed"`
	TotalTime int64  `json:"TotalTime"`
	Error     string `json:"Error,omitempty"`
}

// OutcomeEvent converts a per-file outcome to its event form.
func OutcomeEvent(o Outcome) Event {
	if o.OK() {
		return Event{
			Type:  EventSuccess,
			Index: o.Index,
			Success: &SuccessPayload{
				OriginalFileName: o.Info.OriginalFileName,
				OriginalFileSize: o.Info.OriginalFileSize,
				NewFileName:      o.Info.NewFileName,
				NewFileSize:      o.Info.NewFileSize,
				ConversionTime:   o.Info.ConversionTime.Milliseconds(),
				Thumbnail:        o.Info.Thumbnail,
			},
		}
	}
	return Event{
		Type:  EventError,
		Index: o.Index,
		Error: &ErrorPayload{Path: o.Path, Error: o.Description()},
	}
}

// CompleteEvent converts a batch summary to its event form.
func CompleteEvent(s BatchSummary) Event {
	p := &CompletePayload{
		BatchID:   s.BatchID,
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		TotalTime: s.TotalTime.Milliseconds(),
	}
	if s.Err != nil {
		p.Error = s.Err.Error()
	}
	return Event{Type: EventComplete, Index: -1, Complete: p}
}
