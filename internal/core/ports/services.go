package ports

import (
	"context"
	"time"

	"signing-relay/internal/canonical"
	"signing-relay/internal/core/domain"
)

// AuditLog is the append-only, human-readable event sink of the signing service.
type AuditLog interface {
	Append(ctx context.Context, event *domain.AuditEvent)
}

// RateLimiter bounds how often a single source may request signatures.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RequestSigner obtains signatures for exchange requests without holding the secret.
type RequestSigner interface {
	RequestSignature(ctx context.Context, params canonical.Params) (string, error)
}

// PasswordPrompter reads secrets from the operator with hidden input.
type PasswordPrompter interface {
	PromptPassword(prompt string) (string, error)
}
