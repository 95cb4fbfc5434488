package domain

// BroadcastResult summarizes one broadcast invocation.
type BroadcastResult struct {
	ConnectionsConsidered int  `json:"connections"`
	MessagesInEvent       int  `json:"messagesInEvent"`
	Attempts              int  `json:"attempts"`
	Delivered             int  `json:"sent"`
	StaleRemoved          int  `json:"staleRemoved"`
	Partial               bool `json:"partial,omitempty"`
}

// DeliveryOutcome classifies a single attempt.
type DeliveryOutcome int

const (
	Delivered DeliveryOutcome = iota
	Transient
	Terminal
)

func (o DeliveryOutcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}
