package tlsync

import (
	"errors"
	"fmt"
)

// Error kinds, matched with errors.Is. A PivotChainError also matches the
// kind of the link failure it wraps.
var (
	ErrFetch      = errors.New("fetch failed")
	ErrParse      = errors.New("parse failed")
	ErrSignature  = errors.New("signature verification failed")
	ErrPivotChain = errors.New("pivot chain broken")
)

// Stage names the role of the list being processed when an error occurred.
type Stage string

const (
	StageLOTL        Stage = "lotl"
	StagePivot       Stage = "pivot"
	StageTrustedList Stage = "trusted-list"
)

// FetchError reports a list that could not be retrieved.
type FetchError struct {
	URL   string
	Stage Stage
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: fetch failed: %v", e.Stage, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error        { return e.Err }
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ParseError reports a list that is not a well-formed trusted list.
type ParseError struct {
	URL   string
	Stage Stage
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %s: parse failed: %v", e.Stage, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error        { return e.Err }
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// SignatureError reports a list whose signature no trusted certificate
// verifies, or that fails an announcement check.
type SignatureError struct {
	URL   string
	Stage Stage
	Err   error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s %s: signature verification failed: %v", e.Stage, e.URL, e.Err)
}

func (e *SignatureError) Unwrap() error        { return e.Err }
func (e *SignatureError) Is(target error) bool { return target == ErrSignature }

// PivotChainError reports a broken or oversized chain of historical LOTL
// versions. Err holds the failure of the offending link, if any.
type PivotChainError struct {
	URL    string
	Stage  Stage
	Reason string
	Err    error
}

func (e *PivotChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: pivot chain broken: %s: %v", e.Stage, e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s: pivot chain broken: %s", e.Stage, e.URL, e.Reason)
}

func (e *PivotChainError) Unwrap() error        { return e.Err }
func (e *PivotChainError) Is(target error) bool { return target == ErrPivotChain }

// Kind returns the short name of the error kind of err, or "" if err is not
// one of this package's errors.
func Kind(err error) string {
	var pivotErr *PivotChainError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pivotErr):
		return "pivot-chain"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrSignature):
		return "signature"
	default:
		return ""
	}
}
