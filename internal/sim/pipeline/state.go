package pipeline

// State is a pipeline lifecycle phase.
type State int

const (
	StateInit State = iota
	StateLoadingStatic
	StateExtracting
	StateAligning
	StateEmitting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:          "INIT",
	StateLoadingStatic: "LOADING_STATIC",
	StateExtracting:    "EXTRACTING",
	StateAligning:      "ALIGNING",
	StateEmitting:      "EMITTING",
	StateDone:          "DONE",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// next lists the legal successors of each state.
var next = map[State][]State{
	StateInit:          {StateLoadingStatic},
	StateLoadingStatic: {StateExtracting, StateFailed},
	StateExtracting:    {StateAligning, StateFailed},
	StateAligning:      {StateEmitting, StateFailed},
	StateEmitting:      {StateDone, StateFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
