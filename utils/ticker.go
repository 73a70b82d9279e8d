package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/texturebridge/logging"
)

const (
	slowLogFirst = 2 * time.Second
	slowLogNext  = 3 * time.Second
	slowLogLater = 5 * time.Second
)

// SlowLogger starts a goroutine that warns with msg every few seconds until ctx is done or the
// returned stop function is called. The stop function waits for the goroutine to exit.
func SlowLogger(ctx context.Context, clk clock.Clock, msg string, logger logging.Logger, keysAndValues ...interface{}) func() {
	if clk == nil {
		clk = clock.New()
	}
	slowTicker := clk.Ticker(slowLogFirst)
	firstTick := true

	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := clk.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-slowTicker.C:
				elapsed := clk.Since(startTime).Round(time.Second).String()
				fields := append(append([]interface{}{}, keysAndValues...), "time_elapsed", elapsed)
				logger.Warnw(msg, fields...)
				if firstTick {
					slowTicker.Reset(slowLogNext)
					firstTick = false
				} else {
					slowTicker.Reset(slowLogLater)
				}
			case <-ctxWithCancel.Done():
				return
			}
		}
	}()
	return func() {
		slowTicker.Stop()
		cancel()
		<-done
	}
}
