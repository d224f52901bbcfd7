package transport

import "errors"

// dropActiveForTest severs the active peer's socket without a close frame,
// the way a crashed process or a network drop would.
func (s *Server) dropActiveForTest() error {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return errors.New("no active peer")
	}
	return p.conn.UnderlyingConn().Close()
}
