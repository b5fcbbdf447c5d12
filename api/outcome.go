package api

// State is a step of the experiment state machine.
type State int

const (
	Init State = iota
	Validated
	FabricUp
	ServersStarted
	ClientsCompleted
	CapturesStopped
	TornDown
	Done
	Failed
)

var stateNames = map[State]string{
	Init:             "init",
	Validated:        "validated",
	FabricUp:         "fabric-up",
	ServersStarted:   "servers-started",
	ClientsCompleted: "clients-completed",
	CapturesStopped:  "captures-stopped",
	TornDown:         "torn-down",
	Done:             "done",
	Failed:           "failed",
}

func (s State) String() string {
	return stateNames[s]
}

type Status int

const (
	Success Status = iota
	Skipped
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	}
	return "failed"
}

// Outcome is the result of one repetition. It is never mutated after
// being returned.
type Outcome struct {
	OutputFolder string
	Repetition   int
	Status       Status
	Detail       string
	Err          error
	// States lists every state the run passed through, in order.
	States []State
}
