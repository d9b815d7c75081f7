package simulate

import "os"

// ShowHelp prints usage information for the stat burst tool.
func ShowHelp() {
	os.Stdout.WriteString(`Stat Burst
==========

Fires concurrent bursts of stat creates, updates and deletes at one player
and verifies that the analytics view settles on the final statistics.

Usage:
  go run ./cmd/stat-burst [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -bursts int
        Number of edit bursts (default 5)
  -ops int
        Edits per burst (default 40)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -replay float
        Share of creates resent with the same idempotency key (default 0.1)
  -timeout duration
        HTTP request timeout (default 30s)
  -settle duration
        Maximum time for the view to converge (default 30s)
  -verbose
        Log every burst
  -help
        Show this help message

Examples:
  go run ./cmd/stat-burst -bursts 20 -ops 100 -workers 16
`)
}
