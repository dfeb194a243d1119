// ABOUTME: Raw-socket HTTP(S) transport exposing undecoded body bytes
// ABOUTME: Implements the domain Transport capability set over net and crypto/tls
package transport

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harper/audio-http-source/internal/infrastructure/ring"
)

// The net/http client decodes chunked transfer-encoding before the caller
// sees any bytes, so it cannot back a transport whose consumer does the
// chunk framing itself. This transport speaks HTTP/1.1 over a plain socket
// and hands the body over exactly as it arrives on the wire.

type Config struct {
	ConnectTimeout time.Duration
	// HeaderTimeout bounds reading the status line and response headers.
	HeaderTimeout time.Duration
	// Headers are sent with every request.
	Headers map[string]string
	// BufferBytes sizes the receive queue between socket and consumer.
	BufferBytes  int
	MaxRedirects int
	UserAgent    string
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = 10 * time.Second
	}
	if c.BufferBytes <= 0 {
		c.BufferBytes = 64 * 1024
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.UserAgent == "" {
		c.UserAgent = "audio-http-source/1.0"
	}
}

// session is one connection's receive state. The fill goroutine drains the
// socket into the queue; the consumer pops from the queue without blocking.
type session struct {
	conn  net.Conn
	queue *ring.Buffer
	alive atomic.Bool
}

type HTTP struct {
	cfg     Config
	sess    *session
	headers textproto.MIMEHeader
	length  uint32
}

func NewHTTP(cfg Config) *HTTP {
	cfg.applyDefaults()
	return &HTTP{cfg: cfg}
}

// Open issues a GET for rawURL, following up to MaxRedirects redirects, and
// returns the final response status code. On a 200 the body starts flowing
// into the receive queue; any other outcome leaves the transport closed.
func (t *HTTP) Open(rawURL string) (int, error) {
	t.Close()

	target := rawURL
	for redirect := 0; ; redirect++ {
		conn, br, code, headers, err := t.request(target)
		if err != nil {
			return 0, err
		}

		if code >= 300 && code < 400 {
			location := headers.Get("Location")
			conn.Close()
			if location == "" {
				return code, nil
			}
			if redirect == t.cfg.MaxRedirects {
				return code, fmt.Errorf("transport: more than %d redirects for %s", t.cfg.MaxRedirects, rawURL)
			}
			target, err = resolveLocation(target, location)
			if err != nil {
				return 0, err
			}
			continue
		}

		t.headers = headers
		t.length = parseContentLength(headers)

		if code != http.StatusOK {
			conn.Close()
			return code, nil
		}

		s := &session{conn: conn, queue: ring.New(t.cfg.BufferBytes)}
		s.alive.Store(true)
		t.sess = s
		go fillLoop(s, br)
		return code, nil
	}
}

// request dials, writes the GET, and reads the response head. The returned
// bufio.Reader may already hold body bytes.
func (t *HTTP) request(rawURL string) (net.Conn, *bufio.Reader, int, textproto.MIMEHeader, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, 0, nil, fmt.Errorf("parse url: %w", err)
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	conn, err := net.DialTimeout("tcp", addr, t.cfg.ConnectTimeout)
	if err != nil {
		return nil, nil, 0, nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if u.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: u.Hostname()})
		conn.SetDeadline(time.Now().Add(t.cfg.ConnectTimeout))
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, nil, 0, nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		conn.SetDeadline(time.Time{})
		conn = tlsConn
	}

	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&req, "Host: %s\r\n", u.Host)
	fmt.Fprintf(&req, "User-Agent: %s\r\n", t.cfg.UserAgent)
	req.WriteString("Accept: */*\r\n")
	for k, v := range t.cfg.Headers {
		fmt.Fprintf(&req, "%s: %s\r\n", k, v)
	}
	req.WriteString("\r\n")

	if _, err := io.WriteString(conn, req.String()); err != nil {
		conn.Close()
		return nil, nil, 0, nil, fmt.Errorf("write request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(t.cfg.HeaderTimeout))
	br := bufio.NewReader(conn)
	tp := textproto.NewReader(br)

	statusLine, err := tp.ReadLine()
	if err != nil {
		conn.Close()
		return nil, nil, 0, nil, fmt.Errorf("read status line: %w", err)
	}
	code, err := parseStatusLine(statusLine)
	if err != nil {
		conn.Close()
		return nil, nil, 0, nil, err
	}

	headers, err := tp.ReadMIMEHeader()
	if err != nil {
		conn.Close()
		return nil, nil, 0, nil, fmt.Errorf("read headers: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	return conn, br, code, headers, nil
}

// fillLoop drains the socket into the session queue until the connection
// dies or the queue is closed from the consumer side.
func fillLoop(s *session, br *bufio.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			if s.queue.Write(buf[:n]) != nil {
				return
			}
		}
		if err != nil {
			s.alive.Store(false)
			return
		}
	}
}

func (t *HTTP) Header(name string) (string, bool) {
	if t.headers == nil {
		return "", false
	}
	vs := t.headers.Values(name)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (t *HTTP) ContentLength() uint32 {
	return t.length
}

// Connected reports true while the socket is live or undelivered bytes
// remain queued, which is what the reconnect policy expects: a dead socket
// with data still buffered is not yet a lost stream.
func (t *HTTP) Connected() bool {
	s := t.sess
	if s == nil {
		return false
	}
	return s.alive.Load() || s.queue.Len() > 0
}

func (t *HTTP) Available() int {
	s := t.sess
	if s == nil {
		return 0
	}
	return s.queue.Len()
}

func (t *HTTP) Read(p []byte) (int, error) {
	s := t.sess
	if s == nil {
		return 0, io.EOF
	}
	n := s.queue.Read(p)
	if n == 0 && !s.alive.Load() {
		return 0, io.EOF
	}
	return n, nil
}

func (t *HTTP) Close() error {
	s := t.sess
	if s == nil {
		return nil
	}
	t.sess = nil
	s.alive.Store(false)
	s.conn.Close()
	s.queue.Close()
	return nil
}

func parseStatusLine(line string) (int, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed status code in %q", line)
	}
	return code, nil
}

func parseContentLength(headers textproto.MIMEHeader) uint32 {
	v := headers.Get("Content-Length")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func resolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect location: %w", err)
	}
	return b.ResolveReference(ref).String(), nil
}
