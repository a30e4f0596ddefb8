package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"

	"github.com/forgeui/renderhost/internal/shared/id"
)

var (
	// ErrEmpty marks a zero-length bundle.
	ErrEmpty = errors.New("bundle is empty")
	// ErrNotScript marks a payload that does not look like script text.
	ErrNotScript = errors.New("bundle is not script content")
	// ErrTooLarge marks a bundle over the intake limit.
	ErrTooLarge = errors.New("bundle exceeds size limit")
)

// MaxSourceBytes bounds intake. Generated bundles are single-file UI
// scripts; anything larger is a pipeline defect, not a bigger app.
const MaxSourceBytes = 5 << 20

// Bundle is a compiled, immutable unit of generated UI code. The source
// is held gzip-compressed because the last known-good bundle stays
// resident for the whole session lifetime.
type Bundle struct {
	id         id.BundleID
	hash       string
	title      string
	compressed []byte
	size       int
	createdAt  time.Time
}

// New validates raw bundle source and wraps it for the host. The content
// must sniff as text (the compilation pipeline hands over UTF-8 script,
// never binaries), and the hash is the content identity used to compare
// bundles across remounts.
func New(source []byte, title string) (*Bundle, error) {
	if len(source) == 0 {
		return nil, ErrEmpty
	}
	if len(source) > MaxSourceBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(source))
	}

	mt := mimetype.Detect(source)
	if !isScriptMime(mt) {
		return nil, fmt.Errorf("%w: detected %s", ErrNotScript, mt.String())
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(source); err != nil {
		return nil, fmt.Errorf("failed to compress bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress bundle: %w", err)
	}

	sum := sha256.Sum256(source)

	return &Bundle{
		id:         id.NewBundleID(),
		hash:       hex.EncodeToString(sum[:]),
		title:      title,
		compressed: buf.Bytes(),
		size:       len(source),
		createdAt:  time.Now(),
	}, nil
}

func isScriptMime(mt *mimetype.MIME) bool {
	// mimetype reports plain JS variously depending on content; accept
	// any textual detection and the javascript families explicitly.
	s := mt.String()
	if strings.HasPrefix(s, "text/") {
		return true
	}
	return strings.Contains(s, "javascript") || strings.Contains(s, "ecmascript")
}

// ID returns the bundle's identity within the host.
func (b *Bundle) ID() id.BundleID { return b.id }

// Hash returns the content identity (hex sha256 of the source).
func (b *Bundle) Hash() string { return b.hash }

// Title returns the display title supplied at intake, possibly empty.
func (b *Bundle) Title() string { return b.title }

// Size returns the uncompressed source size in bytes.
func (b *Bundle) Size() int { return b.size }

// CreatedAt returns the intake time.
func (b *Bundle) CreatedAt() time.Time { return b.createdAt }

// Source decompresses and returns the bundle source.
func (b *Bundle) Source() (string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b.compressed))
	if err != nil {
		return "", fmt.Errorf("failed to decompress bundle: %w", err)
	}
	defer zr.Close()

	src, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("failed to decompress bundle: %w", err)
	}
	return string(src), nil
}

// Same reports whether two bundles carry identical content.
func (b *Bundle) Same(other *Bundle) bool {
	return other != nil && b.hash == other.hash
}
