package action

// Status is the lifecycle state of a recommended action.
type Status string

const (
	StatusProposed        Status = "PROPOSED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
	StatusExecuted        Status = "EXECUTED"
)

// allowed lists the legal successor states of each non-terminal status.
var allowed = map[Status][]Status{
	StatusProposed:        {StatusPendingApproval, StatusExecuted},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:        {StatusExecuted},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProposed, StatusPendingApproval, StatusApproved,
		StatusRejected, StatusExpired, StatusExecuted:
		return true
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExpired || s == StatusExecuted
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
