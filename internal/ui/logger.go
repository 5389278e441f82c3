// Package ui provides terminal styling and rendering for qitops.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// InitLogger initializes the charm logger. Logs go to stderr so stdout stays
// free for answers and the MCP protocol.
func InitLogger() {
	SetLogOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(false)
	log.SetReportTimestamp(false)
}

// SetLogOutput redirects log output.
func SetLogOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetDebug enables debug logging. Debug output includes timestamps.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetReportTimestamp(false)
	}
}
