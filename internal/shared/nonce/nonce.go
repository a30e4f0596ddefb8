// Package nonce generates the single-use session tokens that scope every
// message exchanged with an execution context.
//
// A token is minted once per mount and never reused: any inbound message
// carrying a stale token is discarded by the handshake layer. Tokens are
// read from crypto/rand and compared in constant time so a superseded or
// hostile context cannot guess or timing-probe its way into the current
// session.
package nonce

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// TokenBytes is the entropy per token. 24 bytes keeps the base64 form
// compact enough for a CSP attribute while staying unguessable.
const TokenBytes = 24

// Token is a single-use session nonce.
type Token string

// New mints a fresh token from the system entropy source.
func New() (Token, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return Token(base64.RawURLEncoding.EncodeToString(buf)), nil
}

// MustNew mints a token and panics if the entropy source fails. Entropy
// failure is unrecoverable for the host, so callers at mount time use this.
func MustNew() Token {
	t, err := New()
	if err != nil {
		panic(err)
	}
	return t
}

// Equal reports whether two tokens match, in constant time. A zero token
// never matches anything, including another zero token.
func (t Token) Equal(other Token) bool {
	if t.IsZero() || other.IsZero() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t), []byte(other)) == 1
}

// IsZero reports whether the token is unset.
func (t Token) IsZero() bool {
	return t == ""
}

func (t Token) String() string {
	return string(t)
}
