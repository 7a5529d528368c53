package admission

// Outcome result of an operator start or stop request
type Outcome string

const (
	Dispatched          Outcome = "Dispatched"
	AlreadyActive       Outcome = "AlreadyActive"
	LivenessUnknown     Outcome = "LivenessUnknown"
	LivenessStale       Outcome = "LivenessStale"
	InsufficientBalance Outcome = "InsufficientBalance"
	NotActive           Outcome = "NotActive"
	Ambiguous           Outcome = "Ambiguous"
	// DispatchUnconfirmed the command was attempted but the send failed or timed out
	DispatchUnconfirmed Outcome = "DispatchUnconfirmed"
)

// Code numeric result returned by the operator API
func (o Outcome) Code() int {
	switch o {
	case Dispatched:
		return 1
	case AlreadyActive, NotActive:
		return 0
	case LivenessUnknown:
		return -1
	case LivenessStale:
		return -2
	case InsufficientBalance:
		return -3
	case Ambiguous:
		return -4
	case DispatchUnconfirmed:
		return 2
	}
	return 0
}
