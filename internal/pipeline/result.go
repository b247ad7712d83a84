package pipeline

// Status is the per-order outcome reported in a run result
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Per-order messages reported in Detail.Error
const (
	MsgAlreadySent = "Email already sent"
	MsgNoEmail     = "No customer email found"
)

// Detail is the outcome for a single order
type Detail struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Result summarises a run. Details are in the order the source returned them.
type Result struct {
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Errors    int      `json:"errors"`
	Details   []Detail `json:"details"`
}

// Skipped returns the number of orders that were already notified
func (r *Result) Skipped() int {
	n := 0
	for _, d := range r.Details {
		if d.Status == StatusSkipped {
			n++
		}
	}
	return n
}

func (r *Result) add(d Detail) {
	r.Processed++
	switch d.Status {
	case StatusSent:
		r.Sent++
	case StatusError:
		r.Errors++
	}
	r.Details = append(r.Details, d)
}
