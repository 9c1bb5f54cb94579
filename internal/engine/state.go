package engine

// State is the lifecycle state of a Streamer.
type State string

const (
	// StateStopped indicates the streamer is not recording.
	StateStopped State = "stopped"

	// StateStarting indicates the container is being opened and the source
	// started.
	StateStarting State = "starting"

	// StateRunning indicates readings are being persisted.
	StateRunning State = "running"

	// StateStopping indicates the source is being joined and the container
	// finalized.
	StateStopping State = "stopping"
)

var allStates = []string{
	string(StateStopped),
	string(StateStarting),
	string(StateRunning),
	string(StateStopping),
}

func (s State) String() string { return string(s) }
