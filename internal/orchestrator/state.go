package orchestrator

// State is the externally visible phase of the orchestrator
type State string

// Orchestrator states
const (
	StateIdle             State = "idle"
	StatePolling          State = "polling"
	StateDispatching      State = "dispatching"
	StateAwaitingResponse State = "awaiting_response"
	StateReconciling      State = "reconciling"
	StatePaused           State = "paused"
	StateStopping         State = "stopping"
	StateStopped          State = "stopped"
)

type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleStopping
	lifecycleStopped
)
