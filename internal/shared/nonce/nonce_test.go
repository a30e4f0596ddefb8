package nonce

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t1, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t2, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if t1.Equal(t2) {
		t.Error("two fresh tokens should never match")
	}
}

func TestEqual(t *testing.T) {
	tok := MustNew()

	if !tok.Equal(tok) {
		t.Error("token should equal itself")
	}
	if tok.Equal(MustNew()) {
		t.Error("distinct tokens should not match")
	}
	if tok.Equal(Token("")) {
		t.Error("token should not match the zero token")
	}

	var zero Token
	if zero.Equal(zero) {
		t.Error("zero tokens must never authenticate, even against each other")
	}
}

func TestIsZero(t *testing.T) {
	var zero Token
	if !zero.IsZero() {
		t.Error("empty token should be zero")
	}
	if MustNew().IsZero() {
		t.Error("fresh token should not be zero")
	}
}

func TestStringIsURLSafe(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := MustNew().String()
		if strings.ContainsAny(s, "+/=\"'<>&") {
			t.Fatalf("token contains characters unsafe for attribute embedding: %s", s)
		}
	}
}
