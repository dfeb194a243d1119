// ABOUTME: Chunked transfer-encoding framing decoder
// ABOUTME: Parses hex chunk-size lines and verifies inter-chunk CRLF delimiters
package chunked

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harper/audio-http-source/internal/domain"
)

// ErrNoData means no byte arrived before the deadline. At the end of a
// chunked stream this is the normal end-of-stream signal, not a protocol
// violation.
var ErrNoData = errors.New("chunked: no data before deadline")

// ErrBadDelimiter means a chunk payload was not followed by CRLF. Unlike
// ErrNoData this is a framing violation and the session cannot continue.
var ErrBadDelimiter = errors.New("chunked: missing CRLF after chunk payload")

const maxSizeLine = 64

// Decoder tracks framing state for one chunked session: how many payload
// bytes remain before the next size line must be parsed.
type Decoder struct {
	remaining uint32
	wait      time.Duration
	poll      time.Duration
}

func NewDecoder(wait, poll time.Duration) *Decoder {
	return &Decoder{wait: wait, poll: poll}
}

// Remaining returns the payload bytes left in the current chunk.
func (d *Decoder) Remaining() uint32 {
	return d.remaining
}

// Consume records n payload bytes as delivered from the current chunk.
func (d *Decoder) Consume(n uint32) {
	if n > d.remaining {
		n = d.remaining
	}
	d.remaining -= n
}

// ReadSize parses the next chunk-size line: hex digits terminated by CR
// then LF. Waits up to the configured deadline for the first byte; returns
// ErrNoData if nothing arrives, or a parse error for a non-hex line.
// Must only be called when Remaining() is 0.
func (d *Decoder) ReadSize(t domain.Transport) error {
	deadline := time.Now().Add(d.wait)

	line := make([]byte, 0, maxSizeLine)
	for {
		b, err := d.readByte(t, deadline)
		if err != nil {
			return err
		}
		if b == '\r' {
			break
		}
		if len(line) == maxSizeLine {
			return fmt.Errorf("chunked: size line exceeds %d bytes", maxSizeLine)
		}
		line = append(line, b)
	}

	if b, err := d.readByte(t, deadline); err != nil {
		return err
	} else if b != '\n' {
		return fmt.Errorf("chunked: expected LF after size line, got 0x%02x", b)
	}

	// Chunk extensions ("1a;name=val") are allowed and ignored.
	text := string(line)
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	size, err := strconv.ParseUint(strings.TrimSpace(text), 16, 32)
	if err != nil {
		return fmt.Errorf("chunked: malformed size line %q: %w", line, err)
	}

	d.remaining = uint32(size)
	return nil
}

// VerifyDelimiter reads exactly the two bytes that terminate the previous
// chunk's payload and checks them against CRLF. ErrNoData (nothing arrived)
// is distinguished from ErrBadDelimiter (wrong bytes on the wire).
func (d *Decoder) VerifyDelimiter(t domain.Transport) error {
	deadline := time.Now().Add(d.wait)

	var crlf [2]byte
	for i := range crlf {
		b, err := d.readByte(t, deadline)
		if err != nil {
			return err
		}
		crlf[i] = b
	}

	if crlf[0] != '\r' || crlf[1] != '\n' {
		return ErrBadDelimiter
	}
	return nil
}

// readByte fetches one byte from the transport, polling until data shows
// up or the deadline passes.
func (d *Decoder) readByte(t domain.Transport, deadline time.Time) (byte, error) {
	var one [1]byte
	for {
		n, err := t.Read(one[:])
		if n == 1 {
			return one[0], nil
		}
		if err != nil {
			return 0, ErrNoData
		}
		if !time.Now().Before(deadline) {
			return 0, ErrNoData
		}
		time.Sleep(d.poll)
	}
}
