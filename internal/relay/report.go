package relay

type Action string

const (
	ActionSent       Action = "sent"       // fresh envelope published
	ActionRetried    Action = "retried"    // backlog row published and deleted
	ActionAggregated Action = "aggregated" // average of backlog and fresh published
	ActionBuffered   Action = "buffered"   // fresh envelope inserted into buffer
	ActionSkipped    Action = "skipped"    // corrupt backlog row left out of aggregate
	ActionDropped    Action = "dropped"    // fresh envelope lost, buffer unavailable
)

type Outcome struct {
	Action  Action
	ID      int64 // buffer row, 0 for fresh envelope
	Payload []byte
	Merged  []int64 // aggregated: contributing buffer rows
}

// Report of one cycle, for tests and status.
type Report struct {
	Mode     string
	Outcomes []Outcome
	Errors   []error
}

func (r *Report) addError(err error) { r.Errors = append(r.Errors, err) }

func (r *Report) Count(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

func (r *Report) IDs(action Action) []int64 {
	var ids []int64
	for _, o := range r.Outcomes {
		if o.Action == action {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
