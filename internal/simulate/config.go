// Package simulate drives rapid concurrent stat edits against a running
// service and checks that its analytics view converges on the final stats.
package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Bursts        int           // Number of edit bursts
	OpsPerBurst   int           // Edits fired concurrently per burst
	Workers       int           // Concurrent HTTP workers
	Timeout       time.Duration // HTTP request timeout
	SettleTimeout time.Duration // How long the view may take to converge
	// ReplayRatio is the share of creates resent with the same idempotency key.
	ReplayRatio float64
	Verbose     bool
}

// Stats holds run statistics.
type Stats struct {
	PlayerID   string
	Creates    int
	Updates    int
	Deletes    int
	Replays    int
	Missed     int // updates or deletes that lost a race with a delete
	Failed     int
	Records    int
	Generation uint64
	Digest     string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	// Settle is the time from the last edit to a converged view.
	Settle time.Duration
}
