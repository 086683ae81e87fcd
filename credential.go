package meiliguard

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

const redacted = "[REDACTED]"

// AccessCredential is the per-launch master key of the search service.
// It lives only in memory and prints as a placeholder.
type AccessCredential struct {
	secret string
}

// NewAccessCredential generates a fresh 32 character credential
func NewAccessCredential() (AccessCredential, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return AccessCredential{}, fmt.Errorf("generating credential: %w", err)
	}
	return AccessCredential{secret: strings.ReplaceAll(u.String(), "-", "")}, nil
}

// Secret returns the raw credential
func (c AccessCredential) Secret() string {
	return c.secret
}

// IsZero reports whether the credential was never generated
func (c AccessCredential) IsZero() bool {
	return c.secret == ""
}

// String implements fmt.Stringer without revealing the secret
func (c AccessCredential) String() string {
	return redacted
}

// GoString implements fmt.GoStringer without revealing the secret
func (c AccessCredential) GoString() string {
	return "meiliguard.AccessCredential{" + redacted + "}"
}

// LogValue implements slog.LogValuer without revealing the secret
func (c AccessCredential) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
