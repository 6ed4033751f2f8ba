// Package pathkey turns user supplied directory paths into canonical session keys.
//
// Two paths that reach the same directory (through symlinks, relative segments,
// duplicate or trailing separators) normalize to the same Key. Case folding is
// applied only when the Normalizer is told the filesystem is case-insensitive.
package pathkey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// ErrInvalidPath is returned when a path is empty, missing, not a directory or
// cannot be resolved.
var ErrInvalidPath = errors.New("invalid path")

// Key is the canonical identifier of a directory.
type Key string

func (k Key) String() string {
	return string(k)
}

// Digest returns a short stable hex digest of the key, safe for use in
// external key names.
func (k Key) Digest() string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

// Normalizer canonicalizes directory paths. The zero value is case-sensitive.
type Normalizer struct {
	caseInsensitive bool
	folder          cases.Caser
}

// NewNormalizer returns a Normalizer. caseInsensitive must reflect the
// filesystem holding the directories; it is never guessed.
func NewNormalizer(caseInsensitive bool) *Normalizer {
	return &Normalizer{
		caseInsensitive: caseInsensitive,
		folder:          cases.Fold(),
	}
}

// Normalize resolves raw into a Key.
func (n *Normalizer) Normalize(raw string) (Key, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPath, raw, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPath, raw, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPath, raw, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, raw)
	}

	canonical := filepath.Clean(resolved)
	if n.caseInsensitive {
		canonical = n.folder.String(canonical)
	}

	return Key(canonical), nil
}
