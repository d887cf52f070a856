package serialmux

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
)

// HandleEvents subscribes to mux and calls handle for every payload until ctx
// is cancelled or the mux closes. A handler error is logged and the payload
// dropped; the stream keeps going. Drop messages are limited to one a second.
func HandleEvents(ctx context.Context, mux SerialMuxInterface, handle func([]byte) error) error {
	drops := monitoring.NewLimiter(time.Second)
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return fmt.Errorf("serial subscription closed")
			}
			if err := handle(payload); err != nil {
				drops.Logf("serialmux: dropping payload %s: %v", FormatPayload(payload), err)
			}
		}
	}
}
