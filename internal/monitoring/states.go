package monitoring

// State is the connection state machine's current phase. Exactly one
// machine (and therefore one state) is live per active connection.
type State int

const (
	// StateUninitialized: connection selected but nothing attempted yet.
	StateUninitialized State = iota
	// StateCheckingHealth: the cheap probe is running.
	StateCheckingHealth
	// StateFetching: a full multi-resource fetch cycle is in flight.
	StateFetching
	// StateIdle: waiting for the next polling tick.
	StateIdle
	// StateDegraded: the cluster is unreachable; regular polling is
	// suspended and a coarse probe timer drives recovery.
	StateDegraded
	// StateStopped: the machine was torn down; terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCheckingHealth:
		return "checking-health"
	case StateFetching:
		return "fetching"
	case StateIdle:
		return "idle-polling"
	case StateDegraded:
		return "degraded-retrying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
