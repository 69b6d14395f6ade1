package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"signing-relay/pkg/apperror"
)

// Framing selects how a canonical string and its signature travel on the wire.
//
// length-prefixed: each side sends a 4-byte big-endian length and then the
// payload, so a request of any length up to the cap round-trips exactly.
//
// raw: the client sends the bare string and half-closes; the service reads up
// to the cap, signs what it got, and replies with the bare 64-byte digest.
// A longer string is silently truncated to the cap before signing.
type Framing string

const (
	FramingLengthPrefixed Framing = "length-prefixed"
	FramingRaw            Framing = "raw"
)

const lengthHeaderSize = 4

// rawIdleTimeout ends a raw-mode read once the peer stops sending without
// closing its side, as a client that never half-closes does.
const rawIdleTimeout = 200 * time.Millisecond

// rawDrainLimit bounds how much excess input is discarded after truncation.
const rawDrainLimit = 64 * 1024

// ParseFraming validates a framing name.
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(s); f {
	case FramingLengthPrefixed, FramingRaw:
		return f, nil
	default:
		return "", fmt.Errorf("unknown framing %q", s)
	}
}

// request is what the service read from one connection.
// errNoRequest means the peer closed without sending anything, which is
// how Client.Ping checks connectivity.
var errNoRequest = errors.New("connection closed before any data")

type request struct {
	payload   []byte
	truncated int // bytes dropped beyond the cap (raw mode only)
}

// readRequest reads one request; deadline bounds the whole read.
func readRequest(conn net.Conn, framing Framing, maxSize int, deadline time.Time) (*request, error) {
	conn.SetReadDeadline(deadline)
	if framing == FramingRaw {
		return readRawRequest(conn, maxSize, deadline)
	}
	return readFramedRequest(conn, maxSize)
}

func readFramedRequest(r io.Reader, maxSize int) (*request, error) {
	var hdr [lengthHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNoRequest
		}
		return nil, apperror.ErrConnection(fmt.Errorf("reading length header: %w", err))
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, apperror.ErrInvalidMessage("empty canonical string")
	}
	if uint64(n) > uint64(maxSize) {
		return nil, apperror.ErrInvalidMessage(fmt.Sprintf("canonical string of %d bytes exceeds limit of %d", n, maxSize))
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, apperror.ErrConnection(fmt.Errorf("reading %d-byte payload: %w", n, err))
	}
	return &request{payload: payload}, nil
}

// readRawRequest reads until the cap, EOF, or an idle gap after data arrived.
func readRawRequest(conn net.Conn, maxSize int, deadline time.Time) (*request, error) {
	buf := make([]byte, maxSize)
	n := 0
	for n < maxSize {
		m, err := conn.Read(buf[n:])
		n += m
		if err == nil {
			if n > 0 {
				conn.SetReadDeadline(idleDeadline(deadline))
			}
			continue
		}
		if errors.Is(err, io.EOF) || (n > 0 && errors.Is(err, os.ErrDeadlineExceeded)) {
			break
		}
		return nil, apperror.ErrConnection(fmt.Errorf("reading request: %w", err))
	}
	if n == 0 {
		return nil, errNoRequest
	}

	req := &request{payload: buf[:n]}
	if n == maxSize {
		// Consume what the peer sent beyond the cap so closing the socket
		// does not reset the connection before the reply is read.
		conn.SetReadDeadline(idleDeadline(deadline))
		dropped, _ := io.Copy(io.Discard, io.LimitReader(conn, rawDrainLimit))
		req.truncated = int(dropped)
	}
	return req, nil
}

func idleDeadline(deadline time.Time) time.Time {
	idle := time.Now().Add(rawIdleTimeout)
	if !deadline.IsZero() && deadline.Before(idle) {
		return deadline
	}
	return idle
}

func writeResponse(w io.Writer, framing Framing, signature string) error {
	var out []byte
	if framing == FramingRaw {
		out = []byte(signature)
	} else {
		out = make([]byte, lengthHeaderSize+len(signature))
		binary.BigEndian.PutUint32(out, uint32(len(signature)))
		copy(out[lengthHeaderSize:], signature)
	}
	// One write, so the reply leaves in a single segment where possible.
	if _, err := w.Write(out); err != nil {
		return apperror.ErrConnection(fmt.Errorf("writing signature: %w", err))
	}
	return nil
}

func encodeRequest(framing Framing, payload string) []byte {
	if framing == FramingRaw {
		return []byte(payload)
	}
	out := make([]byte, lengthHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[lengthHeaderSize:], payload)
	return out
}
