package runner

import "time"

// Result holds the output of a command execution.
type Result struct {
	RunID     string        // unique identifier for this invocation
	ExitCode  int           // process exit code; -1 when killed by a signal
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Output    []byte        // stdout and stderr interleaved in arrival order
	Truncated bool          // true if output exceeded the size cap
	Duration  time.Duration // wall time from spawn to exit
}
