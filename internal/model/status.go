package model

// Status is the payment lifecycle state.
type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusAuthorized Status = "AUTHORIZED"
	StatusSettled    Status = "SETTLED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusInitiated:  {StatusAuthorized, StatusFailed},
	StatusAuthorized: {StatusSettled, StatusFailed},
	StatusSettled:    {StatusRefunded},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Reinitiable reports whether the order behind a payment in status s may be
// charged again with a fresh payment.
func Reinitiable(s Status) bool {
	return s == StatusFailed || s == StatusRefunded
}
