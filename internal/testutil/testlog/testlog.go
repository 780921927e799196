package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging and brackets the test with start and end
// lines so interleaved goroutine output can be attributed.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	started := time.Now()
	log.Debug().Str("test", t.Name()).Msg("testlog.Start")
	t.Cleanup(func() {
		log.Debug().
			Str("test", t.Name()).
			Bool("failed", t.Failed()).
			Dur("elapsed", time.Since(started)).
			Msg("testlog.End")
	})
}
