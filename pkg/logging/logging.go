package logging

import (
	"log"
	"os"
)

func init() {
	// Set the global logger to use standard error so that standard output
	// stays free for the request/response transport framing.
	log.SetOutput(os.Stderr)
}
