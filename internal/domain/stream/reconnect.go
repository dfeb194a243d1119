// ABOUTME: Bounded-retry reconnect policy for a dropped transport
// ABOUTME: Re-runs the full open sequence against the last-used URL
package stream

import (
	"fmt"
	"time"

	"github.com/harper/audio-http-source/internal/domain"
)

// reconnect re-opens the retained URL after the transport reports the
// connection lost. Each attempt sleeps ReconnectDelay and then re-runs the
// full Open sequence, re-deriving size and mode from scratch; a reconnect
// is indistinguishable from a fresh open at the protocol level. A resource
// that restarts its byte stream at offset 0 will desynchronize the
// position from the actual content offset; no range request is issued to
// resume at the prior offset.
func (s *Source) reconnect() bool {
	s.emit(domain.StatusDisconnected, "stream disconnected")
	s.transport.Close()

	for i := 1; i <= s.cfg.ReconnectAttempts; i++ {
		s.emit(domain.StatusReconnecting, fmt.Sprintf("attempting to reconnect, try %d", i))
		time.Sleep(s.cfg.ReconnectDelay)
		if s.Open(s.url) {
			s.emit(domain.StatusReconnected, "stream reconnected")
			return true
		}
	}

	s.emit(domain.StatusReconnectFailed, "unable to reconnect")
	return false
}
