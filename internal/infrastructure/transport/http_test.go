// ABOUTME: Tests for the raw-socket HTTP transport
// ABOUTME: Verifies request/response handling, redirects, and raw body delivery
package transport

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/harper/audio-http-source/internal/domain/stream"
)

// rawServer serves a canned HTTP response to every connection, optionally
// closing the socket after writing it.
func rawServer(t *testing.T, response string, closeAfter bool) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				br := bufio.NewReader(c)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						c.Close()
						return
					}
					if line == "\r\n" {
						break
					}
				}
				io.WriteString(c, response)
				if closeAfter {
					c.Close()
				}
			}(conn)
		}
	}()

	return "http://" + ln.Addr().String()
}

func waitAvailable(t *testing.T, tr *HTTP, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.Available() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d available bytes, have %d", want, tr.Available())
		}
		time.Sleep(time.Millisecond)
	}
}

func testTransport() *HTTP {
	return NewHTTP(Config{
		ConnectTimeout: 2 * time.Second,
		HeaderTimeout:  2 * time.Second,
		BufferBytes:    4096,
	})
}

func TestOpen_Regular(t *testing.T) {
	url := rawServer(t, "HTTP/1.1 200 OK\r\nContent-Type: audio/mpeg\r\nContent-Length: 10\r\n\r\naudio data", false)

	tr := testTransport()
	code, err := tr.Open(url)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if ct, ok := tr.Header("Content-Type"); !ok || ct != "audio/mpeg" {
		t.Errorf("expected Content-Type audio/mpeg, got %q (%v)", ct, ok)
	}
	if tr.ContentLength() != 10 {
		t.Errorf("expected content length 10, got %d", tr.ContentLength())
	}
	if !tr.Connected() {
		t.Error("transport should report connected")
	}

	waitAvailable(t, tr, 10)
	buf := make([]byte, 16)
	n, err := tr.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "audio data" {
		t.Errorf("expected 'audio data', got %q", buf[:n])
	}
}

func TestOpen_ChunkedBodyStaysRaw(t *testing.T) {
	url := rawServer(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n0\r\n\r\n", true)

	tr := testTransport()
	code, err := tr.Open(url)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if te, ok := tr.Header("Transfer-Encoding"); !ok || te != "chunked" {
		t.Errorf("expected Transfer-Encoding chunked, got %q (%v)", te, ok)
	}
	if tr.ContentLength() != 0 {
		t.Errorf("chunked response must report unknown length, got %d", tr.ContentLength())
	}

	// The framing must arrive untouched for the consumer to decode.
	want := "4\r\nWiki\r\n0\r\n\r\n"
	waitAvailable(t, tr, len(want))
	buf := make([]byte, 64)
	n, _ := tr.Read(buf)
	if string(buf[:n]) != want {
		t.Errorf("expected raw framing %q, got %q", want, buf[:n])
	}
}

func TestOpen_NonOKStatus(t *testing.T) {
	url := rawServer(t, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n", true)

	tr := testTransport()
	code, err := tr.Open(url)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if code != 404 {
		t.Errorf("expected 404, got %d", code)
	}
	if tr.Connected() {
		t.Error("transport must not stay connected after a non-OK response")
	}
}

func TestOpen_FollowsRedirect(t *testing.T) {
	final := rawServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndata", false)
	hop := rawServer(t, "HTTP/1.1 302 Found\r\nLocation: "+final+"\r\nContent-Length: 0\r\n\r\n", true)

	tr := testTransport()
	code, err := tr.Open(hop)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	if code != 200 {
		t.Fatalf("expected 200 after redirect, got %d", code)
	}
	waitAvailable(t, tr, 4)
	buf := make([]byte, 8)
	n, _ := tr.Read(buf)
	if string(buf[:n]) != "data" {
		t.Errorf("expected 'data', got %q", buf[:n])
	}
}

func TestOpen_RedirectLoopBounded(t *testing.T) {
	// A server that redirects to itself forever.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	loop := "http://" + ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				br := bufio.NewReader(c)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						c.Close()
						return
					}
					if line == "\r\n" {
						break
					}
				}
				io.WriteString(c, "HTTP/1.1 302 Found\r\nLocation: "+loop+"\r\nContent-Length: 0\r\n\r\n")
				c.Close()
			}(conn)
		}
	}()

	tr := NewHTTP(Config{MaxRedirects: 3})
	if _, err := tr.Open(loop); err == nil {
		t.Fatal("expected an error for an unbounded redirect chain")
	} else if !strings.Contains(err.Error(), "redirects") {
		t.Errorf("expected a redirect-limit error, got %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	url := rawServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndata", false)

	tr := testTransport()
	if _, err := tr.Open(url); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	if tr.Connected() {
		t.Error("transport should not be connected after close")
	}
	if _, err := tr.Read(make([]byte, 4)); err != io.EOF {
		t.Errorf("read after close should return io.EOF, got %v", err)
	}
}

func TestStreamSource_EndToEndChunked(t *testing.T) {
	url := rawServer(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n", true)

	tr := testTransport()
	src := stream.New(tr, nil, stream.Config{
		ReadWait:        200 * time.Millisecond,
		ChunkHeaderWait: time.Second,
		PollInterval:    time.Millisecond,
	})

	if !src.Open(url) {
		t.Fatal("Open failed")
	}

	var got []byte
	buf := make([]byte, 3)
	for {
		n := src.Read(buf)
		got = append(got, buf[:n]...)
		if n == 0 {
			break
		}
	}

	if string(got) != "Wikipedia" {
		t.Errorf("expected %q, got %q", "Wikipedia", got)
	}
	if src.Pos() != 9 {
		t.Errorf("expected pos 9, got %d", src.Pos())
	}
	if src.IsOpen() {
		t.Error("source should be closed at end of stream")
	}
}

func TestStreamSource_EndToEndRegular(t *testing.T) {
	url := rawServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\naudio data", false)

	tr := testTransport()
	src := stream.New(tr, nil, stream.Config{
		ReadWait:     200 * time.Millisecond,
		PollInterval: time.Millisecond,
	})

	if !src.Open(url) {
		t.Fatal("Open failed")
	}
	defer src.Close()

	if src.Size() != 10 {
		t.Fatalf("expected size 10, got %d", src.Size())
	}

	var got []byte
	buf := make([]byte, 4)
	for src.Pos() < src.Size() {
		n := src.Read(buf)
		if n == 0 {
			t.Fatal("read stalled before declared size was reached")
		}
		got = append(got, buf[:n]...)
	}

	if string(got) != "audio data" {
		t.Errorf("expected 'audio data', got %q", got)
	}
}
