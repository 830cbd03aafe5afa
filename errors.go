package katana

import (
	"errors"
	"fmt"

	"github.com/blitzarch/katana/internal/kformat"
	"github.com/blitzarch/katana/internal/kindex"
)

// Kind classifies a katana Error for programmatic handling, per the error
// taxonomy. Callers should switch on Kind rather than comparing error
// strings.
type Kind int

const (
	// KindIO covers filesystem and device errors.
	KindIO Kind = iota
	KindBadMagic
	KindUnsupportedVersion
	KindMalformedFooter
	KindMalformedIndex
	KindCrcMismatch
	// KindAuthFailure covers HMAC and GCM tag verification failures. Both
	// are reported identically to avoid giving an attacker an oracle that
	// distinguishes which check failed.
	KindAuthFailure
	KindCorruptEntry
	KindUnsafePath
	KindDuplicateEntry
	KindBudgetExceeded
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "Io"
	case KindBadMagic:
		return "BadMagic"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindMalformedFooter:
		return "MalformedFooter"
	case KindMalformedIndex:
		return "MalformedIndex"
	case KindCrcMismatch:
		return "CrcMismatch"
	case KindAuthFailure:
		return "AuthFailure"
	case KindCorruptEntry:
		return "CorruptEntry"
	case KindUnsafePath:
		return "UnsafePath"
	case KindDuplicateEntry:
		return "DuplicateEntry"
	case KindBudgetExceeded:
		return "BudgetExceeded"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the tagged result type surfaced by every public katana
// operation. Callers inspect Kind rather than the message to branch on
// failure category.
type Error struct {
	Kind Kind
	Path string
	// Needed and Budget are populated for KindBudgetExceeded.
	Needed, Budget int64
	Err            error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBudgetExceeded:
		return fmt.Sprintf("%s: needed %d bytes, budget %d bytes", e.Kind, e.Needed, e.Budget)
	case KindCorruptEntry, KindUnsafePath, KindDuplicateEntry:
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	case KindIO:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func errIO(path string, err error) error {
	return &Error{Kind: KindIO, Path: path, Err: err}
}

func errUnsafePath(path string) error {
	return &Error{Kind: KindUnsafePath, Path: path}
}

func errDuplicateEntry(path string) error {
	return &Error{Kind: KindDuplicateEntry, Path: path}
}

func errCorruptEntry(path string) error {
	return &Error{Kind: KindCorruptEntry, Path: path}
}

func errBudgetExceeded(needed, budget int64) error {
	return &Error{Kind: KindBudgetExceeded, Needed: needed, Budget: budget}
}

func errCrcMismatch(path string) error {
	return &Error{Kind: KindCrcMismatch, Path: path}
}

func errAuthFailure(err error) error {
	return &Error{Kind: KindAuthFailure, Err: err}
}

// errCancelled (an *Error with Kind KindCancelled) is returned when a
// session's context is cancelled mid-flight.
var errCancelled = &Error{Kind: KindCancelled}

// wrapFooterErr translates the internal/kformat error taxonomy into the
// public *Error kinds. It leaves *Error values untouched so it can be
// called idempotently.
func wrapFooterErr(err error) error {
	if err == nil {
		return nil
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return err
	}
	var badMagic *kformat.BadMagicError
	if errors.As(err, &badMagic) {
		return &Error{Kind: KindBadMagic, Err: err}
	}
	var unsupported *kformat.UnsupportedVersionError
	if errors.As(err, &unsupported) {
		return &Error{Kind: KindUnsupportedVersion, Err: err}
	}
	var malformed *kformat.MalformedFooterError
	if errors.As(err, &malformed) {
		return &Error{Kind: KindMalformedFooter, Err: err}
	}
	return errIO("", err)
}

// wrapIndexErr translates internal/kindex errors into the public taxonomy.
func wrapIndexErr(err error) error {
	if err == nil {
		return nil
	}
	var malformed *kindex.MalformedIndexError
	if errors.As(err, &malformed) {
		return &Error{Kind: KindMalformedIndex, Err: err}
	}
	return &Error{Kind: KindMalformedIndex, Err: err}
}
