package service

// Outcome classifies an incoming sequence number against an identity's
// current state. Every operation shares this one decision so the
// tie-break between a retransmission and a new request stays in a
// single auditable place.
type Outcome uint8

const (
	// Duplicate: a retransmission of the previous, already processed
	// request. Recompute the response from present state; mutate and
	// log nothing.
	Duplicate Outcome = iota
	// Advance: a new request. Consume the sequence number, evaluate
	// business rules, log the decision.
	Advance
	// OutOfOrder: stale or far-future. No decision at all; the caller
	// sends no response.
	OutOfOrder
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Advance:
		return "advance"
	default:
		return "out-of-order"
	}
}

// Classify compares the last consumed sequence number with the one a
// request carries.
func Classify(current, incoming uint64) Outcome {
	switch incoming {
	case current:
		return Duplicate
	case current + 1:
		return Advance
	default:
		return OutOfOrder
	}
}
