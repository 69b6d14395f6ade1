// Package tcp carries canonical strings to the signing service and
// signatures back, over a private TCP link between the trading host and
// the custody host.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"signing-relay/internal/core/domain"
	"signing-relay/internal/core/ports"
	"signing-relay/pkg/apperror"
	"signing-relay/pkg/backoff"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxFailureBackoff = 30 * time.Second

// Signer computes the hex signature of a canonical string.
type Signer interface {
	Sign(payload []byte) string
}

// ServerConfig configures the signing service.
type ServerConfig struct {
	Allowlist      *Allowlist
	Framing        Framing
	MaxMessageSize int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	FailureBackoff time.Duration // pause after a failed accept
	RateLimit      int64         // per source IP per RateWindow; 0 disables
	RateWindow     time.Duration
}

// Stats is a snapshot of the service counters.
type Stats struct {
	Served    uint64    `json:"served"`
	Rejected  uint64    `json:"rejected"`
	Failed    uint64    `json:"failed"`
	StartedAt time.Time `json:"started_at"`
}

// Server is the signing service. It handles one connection at a time:
// accept, check the source, read one canonical string, reply with its
// signature, close.
type Server struct {
	cfg     ServerConfig
	signer  Signer
	audit   ports.AuditLog
	limiter ports.RateLimiter
	log     zerolog.Logger

	served    atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
	startedAt atomic.Int64
}

// NewServer creates a signing service. limiter may be nil.
func NewServer(cfg ServerConfig, signer Signer, audit ports.AuditLog, limiter ports.RateLimiter, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		signer:  signer,
		audit:   audit,
		limiter: limiter,
		log:     log,
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln and
// returns nil. A failed accept is audited and followed by a growing pause;
// it never stops the loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.startedAt.Store(time.Now().UnixNano())
	s.record(ctx, domain.AuditKindStart, nil, "", fmt.Sprintf("listening on %s (framing=%s, max=%d bytes, allowlist=%d entries)",
		ln.Addr(), s.cfg.Framing, s.cfg.MaxMessageSize, s.cfg.Allowlist.Len()))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	consecutive := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.record(ctx, domain.AuditKindStop, nil, "", "listener closed")
				return nil
			}
			s.failed.Add(1)
			s.record(ctx, domain.AuditKindError, nil, "", fmt.Sprintf("accept failed: %v", err))

			wait := backoff.Calculate(consecutive, s.cfg.FailureBackoff, maxFailureBackoff)
			consecutive++
			select {
			case <-ctx.Done():
				s.record(ctx, domain.AuditKindStop, nil, "", "listener closed")
				return nil
			case <-time.After(wait):
			}
			continue
		}
		consecutive = 0
		s.handle(ctx, conn)
	}
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Served:   s.served.Load(),
		Rejected: s.rejected.Load(),
		Failed:   s.failed.Load(),
	}
	if ns := s.startedAt.Load(); ns != 0 {
		st.StartedAt = time.Unix(0, ns).UTC()
	}
	return st
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	connID := uuid.New()
	source := conn.RemoteAddr().String()

	closeInfo := "connection closed"
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.record(ctx, domain.AuditKindError, &connID, source, fmt.Sprintf("panic while serving: %v", r))
		}
		conn.Close()
		s.record(ctx, domain.AuditKindClose, &connID, source, closeInfo)
	}()

	s.record(ctx, domain.AuditKindConnect, &connID, source, "connection from "+source)

	if !s.cfg.Allowlist.AllowsRemote(conn.RemoteAddr()) {
		s.rejected.Add(1)
		s.record(ctx, domain.AuditKindReject, &connID, source, apperror.ErrUnauthorizedSource(source).Message)
		return
	}

	if !s.allowRate(ctx, conn.RemoteAddr()) {
		s.rejected.Add(1)
		s.record(ctx, domain.AuditKindReject, &connID, source, apperror.ErrRateLimited(source).Message)
		return
	}

	req, err := readRequest(conn, s.cfg.Framing, s.cfg.MaxMessageSize, time.Now().Add(s.cfg.ReadTimeout))
	if errors.Is(err, errNoRequest) {
		closeInfo = "connection closed without a request (connectivity check)"
		return
	}
	if err != nil {
		s.failed.Add(1)
		s.record(ctx, domain.AuditKindError, &connID, source, err.Error())
		return
	}

	info := fmt.Sprintf("received %d bytes: %s", len(req.payload), req.payload)
	if req.truncated > 0 {
		info += fmt.Sprintf(" (truncated, %d further bytes discarded)", req.truncated)
	}
	s.record(ctx, domain.AuditKindReceive, &connID, source, info)

	signature := s.signer.Sign(req.payload)

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := writeResponse(conn, s.cfg.Framing, signature); err != nil {
		s.failed.Add(1)
		s.record(ctx, domain.AuditKindError, &connID, source, err.Error())
		return
	}

	s.served.Add(1)
	s.record(ctx, domain.AuditKindServe, &connID, source, "signature sent")
}

// allowRate applies the optional per-source limit. A limiter error admits
// the request.
func (s *Server) allowRate(ctx context.Context, remote net.Addr) bool {
	if s.limiter == nil || s.cfg.RateLimit <= 0 {
		return true
	}
	key := "signer:" + remoteIP(remote).String()
	res, err := s.limiter.Allow(ctx, key, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
		return true
	}
	return res.Allowed
}

func (s *Server) record(ctx context.Context, kind domain.AuditKind, connID *uuid.UUID, source, info string) {
	if s.audit == nil {
		return
	}
	s.audit.Append(ctx, domain.NewAuditEvent(kind, connID, source, info))
}
