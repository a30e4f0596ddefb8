// Package bundle models the compiled UI bundles handed to the host by
// the code-generation pipeline. A bundle is immutable: it is validated
// and hashed once at intake, then retained gzip-compressed so the last
// known-good bundle can be kept for recovery without holding megabytes
// of source text.
package bundle
