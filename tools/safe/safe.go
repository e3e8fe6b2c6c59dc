package safe

import (
	"consultchat/logger"
)

// Go starts a goroutine that recovers from panic, so a panicking background
// task (projection retry, push dispatch) cannot take the gateway down.
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
