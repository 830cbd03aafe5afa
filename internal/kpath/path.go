// Package kpath canonicalizes and sanitizes archive paths.
//
// Katana stores paths as forward-slash, UTF-8 strings with no leading
// slash, no drive letters or UNC prefixes, and no ".." components. The same
// rules apply on create (to build the canonical path recorded in the index)
// and on extract (to reject anything a hostile index could use to escape
// the output root).
package kpath

import (
	"strings"

	"golang.org/x/xerrors"
)

const (
	// MaxPathBytes is the maximum length of a canonical archive path.
	MaxPathBytes = 4096
	// MaxComponentBytes is the maximum length of a single path component.
	MaxComponentBytes = 255
)

// Canonicalize converts an OS-native path into Katana's canonical archive
// path form: forward slashes, no leading slash, no drive letter or UNC
// prefix. It does not reject ".." components; callers that need the
// extraction-time safety check must call Validate as well.
func Canonicalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")

	// Strip Windows drive letters, e.g. "C:/foo" -> "/foo".
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		p = p[2:]
	}

	// Strip UNC prefixes, e.g. "//server/share/foo" -> "foo".
	if strings.HasPrefix(p, "//") {
		rest := strings.TrimPrefix(p, "//")
		if idx := strings.Index(rest, "/"); idx >= 0 {
			rest = rest[idx+1:]
			if idx2 := strings.Index(rest, "/"); idx2 >= 0 {
				rest = rest[idx2+1:]
			} else {
				rest = ""
			}
		}
		p = rest
	}

	for strings.HasPrefix(p, "/") {
		p = p[1:]
	}

	return p
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Validate checks a canonical path for the safety properties required
// before it is trusted as an extraction destination. It rejects NUL and
// ASCII control bytes, oversized paths/components, any ".." component, and
// any path that is not already in Katana's canonical form: a leading "/",
// a backslash anywhere (ruling out both "\"-separated paths and UNC
// prefixes like "\\srv\share\x"), and a drive-letter prefix such as
// "C:/Windows/x" are all rejected outright rather than normalized, since a
// stored index path is untrusted input, not something to be made safe.
func Validate(p string) error {
	if len(p) == 0 {
		return xerrors.Errorf("%s: empty path", p)
	}
	if len(p) > MaxPathBytes {
		return xerrors.Errorf("%s: path exceeds %d bytes", p, MaxPathBytes)
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == 0 || c < 0x20 {
			return xerrors.Errorf("%s: contains control byte 0x%02x", p, c)
		}
	}
	if strings.HasPrefix(p, "/") {
		return xerrors.Errorf("%s: absolute path", p)
	}
	if strings.Contains(p, `\`) {
		return xerrors.Errorf("%s: contains backslash", p)
	}
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		return xerrors.Errorf("%s: drive-letter prefix", p)
	}
	components := strings.Split(p, "/")
	for _, c := range components {
		if c == ".." || c == "." {
			return xerrors.Errorf("%s: contains %q component", p, c)
		}
		if len(c) > MaxComponentBytes {
			return xerrors.Errorf("%s: component %q exceeds %d bytes", p, c, MaxComponentBytes)
		}
	}
	return nil
}

// Join computes the on-disk destination path for a canonical archive path
// under outputRoot, after removing the first stripComponents path
// components. Entries whose component count is at most stripComponents are
// placed directly under outputRoot using their basename.
func Join(outputRoot, archivePath string, stripComponents int) string {
	components := strings.Split(archivePath, "/")
	if stripComponents > 0 {
		if stripComponents >= len(components) {
			components = components[len(components)-1:]
		} else {
			components = components[stripComponents:]
		}
	}
	return outputRoot + "/" + strings.Join(components, "/")
}
