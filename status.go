package kernel

// Status is the lifecycle state of a bean.
type Status int

const (
	NotRegistered Status = iota
	NotStarted
	Starting
	Started
	Stopping
	Error
)

func (s Status) String() string {
	switch s {
	case NotRegistered:
		return "NOT_REGISTERED"
	case NotStarted:
		return "NOT_STARTED"
	case Starting:
		return "STARTING"
	case Started:
		return "STARTED"
	case Stopping:
		return "STOPPING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether dependents may proceed past a bean in this state.
func (s Status) Terminal() bool {
	return s == Started || s == Error
}

// MarshalText renders the status by name, for JSON status output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
