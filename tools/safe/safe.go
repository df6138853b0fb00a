package safe

import (
	"github.com/gutche/yappin/logger"
)

// Go starts a goroutine that recovers from panics, so a single
// connection handler blowing up never takes the worker down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
