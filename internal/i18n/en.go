package i18n

var enMessages = &Messages{
	// Common
	Loading: "Loading...",
	Error:   "Error",
	Success: "Success",
	Confirm: "Confirm",
	Cancel:  "Cancel",
	Yes:     "yes",
	No:      "no",

	// Readiness
	Workspace:      "Workspace",
	Image:          "Image",
	Containers:     "Containers",
	Daemon:         "Docker",
	Connected:      "Connected",
	Disconnected:   "Disconnected",
	Unknown:        "Unknown",
	Checking:       "Checking...",
	NotInitialized: "Not initialized",
	NotBuilt:       "Image not built",
	Ready:          "Ready",

	// Command labels
	CmdRefresh:    "Refreshing",
	CmdInitialize: "Initializing workspace",
	CmdBuild:      "Building image",
	CmdTerminal:   "Starting terminal",
	CmdFuzz:       "Starting fuzzing run",
	CmdExec:       "Running command",
	CmdStop:       "Stopping container",
	CmdKill:       "Killing container",
	CmdStopAll:    "Stopping all containers",
	CmdCleanup:    "Removing orphaned containers",

	// Outcomes
	OutcomeSuccess:  "%s finished",
	OutcomeFailed:   "%s failed: %v",
	OutcomeBusy:     "Another command is running, %s was not started",
	OutcomeDeclined: "%s cancelled",
	Busy:            "busy",

	// Confirm dialogs
	ConfirmStop:    "Stop container %s?",
	ConfirmKill:    "Kill container %s?",
	ConfirmStopAll: "Stop all %d running containers?",
	ConfirmCleanup: "Force remove running orphaned container %s?",

	// Errors
	DaemonUnreachable: "Cannot connect to the Docker daemon",
	BinaryMissing:     "Docker executable not found",
	PartialFailure:    "Some containers could not be processed",

	// Views
	Logs:          "Logs",
	CommandPrompt: "Command to run (enter to start, esc to cancel)",
	NoContainers:  "No containers for this workspace",
	ConfirmHint:   "y confirm • n/esc cancel",
	ShellExited:   "Left shell of %s",

	// Hints for keys
	KeyHints: "r refresh • i init • b build • t terminal • s stop • x stop all • c cleanup • L language",
	Quit:     "q quit",
}
