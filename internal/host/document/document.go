// Package document builds the host document that carries a bundle into
// the isolated execution context.
//
// The document is the only thing the context ever loads: a skeleton page
// whose CSP forbids everything except the single inline script slot
// tagged with the session nonce. Bundle-supplied display titles are
// sanitized before embedding; the bundle script itself is never
// sanitized or rewritten, it is confined by the policy and the sandbox.
package document

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/forgeui/renderhost/internal/bundle"
	"github.com/forgeui/renderhost/internal/host/policy"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/shared/nonce"
)

var titlePolicy = bluemonday.StrictPolicy()

// Document is a rendered host page for one mount. It is bound to exactly
// one nonce; remounting the same bundle produces a new document.
type Document struct {
	Nonce  nonce.Token
	Policy string
	Title  string
	Script string
	Init   protocol.InitPayload
}

// Build assembles the host document for a bundle under a fresh nonce.
func Build(b *bundle.Bundle, token nonce.Token, init protocol.InitPayload) (*Document, error) {
	if token.IsZero() {
		return nil, fmt.Errorf("document requires a nonce")
	}

	src, err := b.Source()
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(titlePolicy.Sanitize(b.Title()))
	if title == "" {
		title = "Generated App"
	}

	return &Document{
		Nonce:  token,
		Policy: policy.Build(token),
		Title:  title,
		Script: src,
		Init:   init,
	}, nil
}

var pageTemplate = template.Must(template.New("host").Parse(`<!DOCTYPE html>
<html data-theme="{{.Init.Theme}}">
<head>
<meta charset="utf-8">
<meta http-equiv="Content-Security-Policy" content="{{.Policy}}">
<title>{{.Title}}</title>
</head>
<body>
<div id="root"></div>
<script nonce="{{.Nonce}}">{{.ScriptJS}}</script>
</body>
</html>
`))

// HTML renders the document as the page served into the context's frame.
func (d *Document) HTML() (string, error) {
	var sb strings.Builder
	data := struct {
		*Document
		ScriptJS template.JS
	}{Document: d, ScriptJS: template.JS(d.Script)}

	if err := pageTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render host document: %w", err)
	}
	return sb.String(), nil
}
