package manifest

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrSchemaVersion = errors.New("unsupported manifest schema version")
)

// ScanError reports a tree that could not be fully enumerated.
// A manifest is never produced from a partial scan.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// PathValidationError reports a manifest entry whose path would escape the
// tree root. These are permanent: the entry is rejected, never retried.
type PathValidationError struct {
	Path   string
	Reason string
}

func (e *PathValidationError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// ValidateRelPath rejects paths that are absolute, contain traversal
// segments, or are otherwise unsafe to join under a tree root.
func ValidateRelPath(p string) error {
	if p == "" {
		return &PathValidationError{Path: p, Reason: "empty"}
	}
	if strings.ContainsRune(p, '\\') {
		return &PathValidationError{Path: p, Reason: "backslash separator"}
	}
	if strings.HasPrefix(p, "/") {
		return &PathValidationError{Path: p, Reason: "absolute"}
	}
	// windows drive or scheme-ish prefix
	if strings.Contains(p, ":") {
		return &PathValidationError{Path: p, Reason: "volume or scheme prefix"}
	}
	if strings.ContainsRune(p, 0) {
		return &PathValidationError{Path: p, Reason: "NUL byte"}
	}
	clean := path.Clean(p)
	if clean != p {
		return &PathValidationError{Path: p, Reason: "not in canonical form"}
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return &PathValidationError{Path: p, Reason: "escapes tree root"}
	}
	if clean == "." {
		return &PathValidationError{Path: p, Reason: "refers to tree root"}
	}
	return nil
}

// NormPath converts an OS-specific relative path to manifest form.
func NormPath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
