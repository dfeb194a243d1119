// ABOUTME: Pull-based byte-stream source over an HTTP(S) transport
// ABOUTME: Owns position/size bookkeeping and regular vs chunked read dispatch
package stream

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/harper/audio-http-source/internal/domain"
	"github.com/harper/audio-http-source/internal/infrastructure/chunked"
)

// Mode selects the read strategy fixed at open time.
type Mode int

const (
	ModeRegular Mode = iota
	ModeChunked
)

type Config struct {
	// ReadWait bounds how long a blocking read waits for data.
	ReadWait time.Duration
	// ChunkHeaderWait bounds the wait for a chunk-size line or delimiter.
	ChunkHeaderWait time.Duration
	// PollInterval is the yield period inside bounded waits.
	PollInterval time.Duration

	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// MaxURLLength caps the retained reconnect URL.
	MaxURLLength int
}

func (c *Config) applyDefaults() {
	if c.ReadWait <= 0 {
		c.ReadWait = 500 * time.Millisecond
	}
	if c.ChunkHeaderWait <= 0 {
		c.ChunkHeaderWait = 1500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Millisecond
	}
	if c.ReconnectAttempts < 0 {
		c.ReconnectAttempts = 0
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxURLLength <= 0 {
		c.MaxURLLength = 128
	}
}

// Source exposes one HTTP(S) resource as a forward-only byte stream. A
// Source is for a single caller; no methods may be invoked concurrently.
type Source struct {
	cfg       Config
	transport domain.Transport
	status    domain.StatusFunc

	url  string
	pos  uint32
	size uint32 // 0 means unbounded or undeclared
	mode Mode
	dec  *chunked.Decoder // non-nil only in chunked mode
	eof  bool
}

func New(t domain.Transport, status domain.StatusFunc, cfg Config) *Source {
	cfg.applyDefaults()
	return &Source{cfg: cfg, transport: t, status: status}
}

// Open issues the request and fixes the session's read mode. Position is
// reset to 0. On failure the transport is released and the source is left
// closed. The URL is retained (truncated to MaxURLLength) for reconnects.
func (s *Source) Open(url string) bool {
	s.pos = 0
	s.eof = false
	s.size = 0
	s.mode = ModeRegular
	s.dec = nil

	code, err := s.transport.Open(url)
	if err != nil || code != http.StatusOK {
		s.transport.Close()
		s.emit(domain.StatusRequestFailed, "can't open HTTP request")
		return false
	}

	if enc, ok := s.transport.Header("Transfer-Encoding"); ok && strings.EqualFold(enc, "chunked") {
		dec := chunked.NewDecoder(s.cfg.ChunkHeaderWait, s.cfg.PollInterval)
		if err := dec.ReadSize(s.transport); err != nil {
			s.transport.Close()
			s.emit(domain.StatusFramingError, "can't read first chunk header")
			return false
		}
		s.mode = ModeChunked
		s.dec = dec
	} else {
		s.size = s.transport.ContentLength()
	}

	if len(url) > s.cfg.MaxURLLength {
		url = url[:s.cfg.MaxURLLength]
	}
	s.url = url
	return true
}

// Read copies up to len(p) stream bytes into p, waiting a bounded time for
// data to arrive. Returns the byte count; 0 without an end-of-stream
// condition means "retry later".
func (s *Source) Read(p []byte) int {
	return s.read(p, false)
}

// ReadNonBlocking copies whatever is already available, possibly nothing,
// and never waits for the network.
func (s *Source) ReadNonBlocking(p []byte) int {
	return s.read(p, true)
}

func (s *Source) read(p []byte, nonBlock bool) int {
	if p == nil {
		s.emit(domain.StatusUsageError, "read passed nil buffer")
		return 0
	}
	if len(p) == 0 {
		return 0
	}

	switch s.mode {
	case ModeChunked:
		return s.readChunked(p, nonBlock)
	default:
		return s.readInternal(p, nonBlock)
	}
}

// readChunked drives the framing state machine: payload bytes are drained
// up to the current chunk boundary, then the CRLF delimiter is checked and
// the next size line parsed.
func (s *Source) readChunked(p []byte, nonBlock bool) int {
	rem := s.dec.Remaining()

	if uint32(len(p)) < rem {
		// Request fits inside the current chunk; framing untouched.
		n := s.readInternal(p, nonBlock)
		s.dec.Consume(uint32(n))
		return n
	}

	copied := 0
	if rem > 0 {
		copied = s.readInternal(p[:rem], nonBlock)
		s.dec.Consume(uint32(copied))
	}
	if s.dec.Remaining() > 0 {
		// Short read; the caller drains the rest of the chunk next call.
		return copied
	}

	if err := s.dec.VerifyDelimiter(s.transport); err != nil {
		if errors.Is(err, chunked.ErrBadDelimiter) {
			s.emit(domain.StatusFramingError, "missing CRLF after chunk, stream is corrupt")
			s.Close()
			return 0
		}
		// No bytes where the delimiter belongs: the stream is over.
		s.Close()
		return copied
	}

	if err := s.dec.ReadSize(s.transport); err != nil {
		// The terminal zero-length chunk surfaces here as a parse/no-data
		// failure; end of stream, not an error.
		s.Close()
	}
	return copied
}

// readInternal is the low-level read shared by both modes: reconnects a
// dead transport, clamps to the declared size, waits bounded for data in
// blocking mode, and advances the position. A blocking read that times out
// closes the session and retries once from the top.
func (s *Source) readInternal(p []byte, nonBlock bool) int {
	for attempt := 0; attempt < 2; attempt++ {
		if !s.transport.Connected() && !s.reconnect() {
			return 0
		}
		if s.size > 0 && s.pos >= s.size {
			return 0
		}

		want := len(p)
		if s.size > 0 && uint32(want) > s.size-s.pos {
			want = int(s.size - s.pos)
		}

		if !nonBlock {
			deadline := time.Now().Add(s.cfg.ReadWait)
			for s.transport.Available() < want && time.Now().Before(deadline) {
				time.Sleep(s.cfg.PollInterval)
			}
		}

		avail := s.transport.Available()
		if avail == 0 {
			if nonBlock {
				return 0
			}
			s.emit(domain.StatusNoData, "no stream data available")
			s.Close()
			continue
		}
		if avail < want {
			want = avail
		}

		n, err := s.transport.Read(p[:want])
		if n == 0 && err != nil {
			return 0
		}
		s.pos += uint32(n)
		return n
	}
	return 0
}

// Seek is unsupported; the stream is forward-only.
func (s *Source) Seek(offset int64, whence int) bool {
	s.emit(domain.StatusUsageError, "seek not supported on a live stream")
	return false
}

// Close ends the session. Idempotent.
func (s *Source) Close() bool {
	s.eof = true
	s.transport.Close()
	return true
}

func (s *Source) IsOpen() bool {
	return s.transport.Connected() && !s.eof
}

// Size returns the declared total byte count, 0 when unbounded.
func (s *Source) Size() uint32 {
	return s.size
}

// Pos returns the byte offset delivered so far this session.
func (s *Source) Pos() uint32 {
	return s.pos
}

func (s *Source) emit(kind domain.StatusKind, message string) {
	if s.status != nil {
		s.status(kind, message)
	}
}
