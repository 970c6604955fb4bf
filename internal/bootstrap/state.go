package bootstrap

// State is a stage of the bootstrap sequence.
type State int32

const (
	StateInit State = iota
	StateConfiguringLogger
	StateCheckingRunning
	StateDeploying
	StateInstallingAddIn
	StateLaunching
	StateReady
	StateSkipped
	StateSkippedWithError
)

var stateNames = [...]string{
	StateInit:              "Init",
	StateConfiguringLogger: "ConfiguringLogger",
	StateCheckingRunning:   "CheckingRunning",
	StateDeploying:         "Deploying",
	StateInstallingAddIn:   "InstallingAddIn",
	StateLaunching:         "Launching",
	StateReady:             "Ready",
	StateSkipped:           "Skipped",
	StateSkippedWithError:  "SkippedWithError",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal reports whether the sequence has stopped in s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateSkipped || s == StateSkippedWithError
}

// Outcome is the result of one bootstrap run.
type Outcome struct {
	State State
	// Step is the stage that failed when State is StateSkippedWithError.
	Step State
	Err  error
}
