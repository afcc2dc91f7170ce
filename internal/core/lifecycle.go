package core

import (
	"context"
	"errors"
	"time"
)

// Start launches the pairing reaper, the session cleanup loop and the key
// rotation check.
func (s *Service) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.pairing.Start()
	s.sessions.Start()
	go s.rotateLoop()
}

func (s *Service) rotateLoop() {
	defer close(s.done)
	t := time.NewTicker(s.rotateInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.RotateKeys(context.Background(), "scheduler")
		}
	}
}

// Close stops the background loops. It is safe to call without Start, and
// more than once.
func (s *Service) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
	return errors.Join(s.pairing.Close(), s.sessions.Close())
}
