package writebatch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// schedule runs the timed flush loop until stop is closed. The timer is
// reset after each flush completes, so ticks never overlap.
func (m *Manager[T]) schedule(interval time.Duration) {
	defer close(m.done)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-timer.C:
			// stop wins over a tick that fired at the same time
			select {
			case <-m.stop:
				return
			default:
			}
			if err := m.flush(context.Background(), triggerTimer); err != nil {
				log.WithFields(log.Fields{
					"manager": m.config.Name,
					"error":   err,
				}).Warn("scheduled flush failed")
			}
			timer.Reset(interval)
		}
	}
}
