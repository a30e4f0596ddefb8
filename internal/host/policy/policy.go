// Package policy renders the content security policy for a host document.
//
// The policy is a pure function of the session nonce and must be rebuilt
// for every mount: a policy reused across nonces would let a superseded
// bundle's inline script keep executing under the new session.
package policy

import (
	"fmt"
	"strings"

	"github.com/forgeui/renderhost/internal/shared/nonce"
)

// Build renders the strict execution policy parameterized by token.
//
// default-src 'none' forbids every fetch the document could make on its
// own; the only script allowed is the inline bundle tagged with this
// exact nonce. Network access happens solely through the message channel
// and the host's relay. frame-ancestors 'none' forbids embedding the
// document anywhere but the host's own context.
func Build(token nonce.Token) string {
	directives := []string{
		"default-src 'none'",
		fmt.Sprintf("script-src 'nonce-%s'", token),
		"style-src 'unsafe-inline'",
		"connect-src 'none'",
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'none'",
	}
	return strings.Join(directives, "; ")
}
