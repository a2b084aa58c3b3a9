package domain

import "fmt"

// OpState tracks an optimistic mutation: Pending until the store answers,
// then Committed or RolledBack. PartiallyCommitted is terminal for poll
// creation that stopped after the message row was written.
type OpState int

const (
	Committed OpState = iota
	Pending
	RolledBack
	PartiallyCommitted
)

func (s OpState) String() string {
	switch s {
	case Committed:
		return "committed"
	case Pending:
		return "pending"
	case RolledBack:
		return "rolled_back"
	case PartiallyCommitted:
		return "partially_committed"
	default:
		return fmt.Sprintf("OpState(%d)", int(s))
	}
}

func (s OpState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OpState) UnmarshalText(text []byte) error {
	for _, candidate := range []OpState{Committed, Pending, RolledBack, PartiallyCommitted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown operation state %q", text)
}
