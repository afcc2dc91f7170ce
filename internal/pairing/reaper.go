package pairing

import (
	"context"
	"time"
)

// Reap removes every expired code once.
func (i *Issuer) Reap(ctx context.Context) (int, error) {
	n, err := i.store.DeleteExpired(ctx, i.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		i.log.Debug().Int("removed", n).Msg("expired pairing codes reaped")
	}
	return n, nil
}

// Start runs Reap every ReapInterval until Close is called. A sweep that has
// begun always runs to completion. Calling Start twice is a no-op.
func (i *Issuer) Start() {
	if !i.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(i.done)
		t := time.NewTicker(i.cfg.ReapInterval)
		defer t.Stop()
		for {
			select {
			case <-i.stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), i.cfg.ReapInterval)
				if _, err := i.Reap(ctx); err != nil {
					i.log.Warn().Err(err).Msg("pairing reap failed")
				}
				cancel()
			}
		}
	}()
}

// Close stops the reaper and waits for it to exit. It is safe to call
// without Start, and more than once.
func (i *Issuer) Close() error {
	i.stopOnce.Do(func() { close(i.stop) })
	if i.started.Load() {
		<-i.done
	}
	return nil
}
