package keys

import "time"

// Rotate bumps the key version once the rotation interval has elapsed since
// the last rotation. Early calls are a no-op and report false, so at most one
// rotation happens per interval however many callers race here.
func (s *Service) Rotate() (rotated bool, version uint64) {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()
	now := s.now()
	if now.Sub(s.lastRotation) < s.cfg.RotationInterval {
		return false, s.version
	}
	s.version++
	s.lastRotation = now
	s.log.Info().Uint64("version", s.version).Msg("key version rotated")
	return true, s.version
}

// NextRotation reports when Rotate will next succeed.
func (s *Service) NextRotation() time.Time {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()
	return s.lastRotation.Add(s.cfg.RotationInterval)
}
