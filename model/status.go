package model

import "time"

type AdmitStatus int32

const (
	AdmitUnknown AdmitStatus = iota
	Admitted
	NoStock
	DuplicateOrder
	NotStarted
	Ended
)

func (s AdmitStatus) String() string {
	switch s {
	case Admitted:
		return "ADMITTED"
	case NoStock:
		return "SOLD_OUT"
	case DuplicateOrder:
		return "DUPLICATE_ORDER"
	case NotStarted:
		return "NOT_STARTED"
	case Ended:
		return "ENDED"
	}
	return "UNKNOWN"
}

type AdmitResult struct {
	Status  AdmitStatus
	OrderID int64
}

// Outcome is the terminal state of a ticket once the pipeline is done with it.
type Outcome int32

const (
	OutcomeUnknown Outcome = iota
	// Persisted: the order row was written by this delivery.
	Persisted
	// Replayed: the same order id was already stored by an earlier delivery.
	Replayed
	// Duplicate: storage already holds a different order for the user and voucher.
	Duplicate
	// SoldOut: durable stock was exhausted although the gate admitted the ticket.
	SoldOut
)

func (o Outcome) String() string {
	switch o {
	case Persisted:
		return "persisted"
	case Replayed:
		return "replayed"
	case Duplicate:
		return "duplicate"
	case SoldOut:
		return "sold_out"
	}
	return "unknown"
}

// Succeeded reports whether an order exists for the ticket.
func (o Outcome) Succeeded() bool {
	return o == Persisted || o == Replayed
}

type Settlement struct {
	Ticket    Ticket
	Outcome   Outcome
	StreamID  string
	SettledAt time.Time
}

func ParseOutcome(s string) Outcome {
	switch s {
	case "persisted":
		return Persisted
	case "replayed":
		return Replayed
	case "duplicate":
		return Duplicate
	case "sold_out":
		return SoldOut
	}
	return OutcomeUnknown
}
