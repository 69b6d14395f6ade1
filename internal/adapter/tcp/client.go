package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"signing-relay/internal/canonical"
	"signing-relay/pkg/apperror"
)

const signatureLen = 64

// ClientConfig configures the connection to the signing service.
type ClientConfig struct {
	Addr           string
	DialTimeout    time.Duration
	IOTimeout      time.Duration
	Framing        Framing
	MaxMessageSize int
}

// Client obtains signatures from the signing service. It never sees the secret.
//
// Errors carry SIGN_101 (unavailable) when the service could not be reached
// or did not answer in time, and SIGN_102 (failed) when it answered with
// anything other than a well-formed signature, including closing without data.
type Client struct {
	cfg    ClientConfig
	dialer net.Dialer
}

// NewClient creates a signing client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:    cfg,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
	}
}

// RequestSignature canonicalizes params and asks the service to sign the result.
// params must not already carry a signature entry.
func (c *Client) RequestSignature(ctx context.Context, params canonical.Params) (string, error) {
	if params.Has(canonical.SignatureKey) {
		return "", apperror.ErrSignatureSlotTaken()
	}
	s, err := canonical.Canonicalize(params)
	if err != nil {
		return "", err
	}
	return c.SignCanonical(ctx, s)
}

// SignCanonical sends an already canonical string and returns its signature.
func (c *Client) SignCanonical(ctx context.Context, s string) (string, error) {
	if s == "" {
		return "", apperror.ErrSigningFailed("empty canonical string")
	}
	if c.cfg.Framing != FramingRaw && len(s) > c.cfg.MaxMessageSize {
		return "", apperror.ErrSigningFailed(fmt.Sprintf("canonical string of %d bytes exceeds limit of %d", len(s), c.cfg.MaxMessageSize))
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return "", apperror.ErrSigningUnavailable(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(encodeRequest(c.cfg.Framing, s)); err != nil {
		return "", apperror.ErrSigningUnavailable(fmt.Errorf("sending canonical string: %w", err))
	}

	if c.cfg.Framing == FramingRaw {
		// End of request is signalled by closing our side.
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			if err := cw.CloseWrite(); err != nil {
				return "", apperror.ErrSigningUnavailable(fmt.Errorf("half-closing connection: %w", err))
			}
		}
		return readRawSignature(conn)
	}
	return readFramedSignature(conn)
}

// Ping checks that the service accepts connections from this host. The
// service sees a connection that closes without a request and audits it as
// a plain CONNECT/CLOSE pair.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return 0, apperror.ErrSigningUnavailable(err)
	}
	rtt := time.Since(start)
	conn.Close()
	return rtt, nil
}

func readRawSignature(r io.Reader) (string, error) {
	buf, err := io.ReadAll(io.LimitReader(r, signatureLen+1))
	if err != nil && len(buf) == 0 {
		return "", classifyReadError(err)
	}
	if len(buf) == 0 {
		return "", apperror.ErrSigningFailed("connection closed without a signature")
	}
	return validateSignature(buf)
}

func readFramedSignature(r io.Reader) (string, error) {
	var hdr [lengthHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return "", apperror.ErrSigningFailed("connection closed without a signature")
		}
		return "", classifyReadError(err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n != signatureLen {
		return "", apperror.ErrSigningFailed(fmt.Sprintf("signature length %d, want %d", n, signatureLen))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", classifyReadError(err)
	}
	return validateSignature(buf)
}

func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.ErrSigningUnavailable(err)
	}
	return apperror.ErrSigningFailed(err.Error())
}

// validateSignature accepts exactly 64 lowercase hex characters.
func validateSignature(b []byte) (string, error) {
	if len(b) != signatureLen {
		return "", apperror.ErrSigningFailed(fmt.Sprintf("got %d bytes, want %d", len(b), signatureLen))
	}
	for _, c := range b {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return "", apperror.ErrSigningFailed("signature is not lowercase hex")
		}
	}
	return string(b), nil
}
