package lib

import (
	"os"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Bail logs the error and exits the process with a nonzero code. Aggregates
// are expanded so each underlying failure gets its own line.
func Bail(err error) {
	if agg, ok := trace.Unwrap(err).(trace.Aggregate); ok {
		for _, inner := range agg.Errors() {
			log.WithError(inner).Error("Terminating...")
		}
	} else {
		log.WithError(err).Error("Terminating...")
	}
	os.Exit(1)
}
