package tlsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"Nil", nil, ""},
		{"Foreign", cause, ""},
		{"Fetch", &FetchError{URL: "u", Stage: StageTrustedList, Err: cause}, "fetch"},
		{"Parse", &ParseError{URL: "u", Stage: StageLOTL, Err: cause}, "parse"},
		{"Signature", &SignatureError{URL: "u", Stage: StageLOTL, Err: cause}, "signature"},
		{"Pivot chain", &PivotChainError{URL: "u", Stage: StagePivot, Reason: "r"}, "pivot-chain"},
		{
			"Pivot chain wrapping signature",
			&PivotChainError{URL: "u", Stage: StagePivot, Reason: "r", Err: &SignatureError{URL: "u", Err: cause}},
			"pivot-chain",
		},
		{"Wrapped", fmt.Errorf("sync: %w", &ParseError{URL: "u", Err: cause}), "parse"},
		{"Context", context.DeadlineExceeded, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrors_IsAndUnwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	fetchErr := &FetchError{URL: "https://tl.example/de.xml", Stage: StageTrustedList, Err: cause}

	if !errors.Is(fetchErr, ErrFetch) {
		t.Error("FetchError should match ErrFetch")
	}
	if errors.Is(fetchErr, ErrParse) || errors.Is(fetchErr, ErrSignature) || errors.Is(fetchErr, ErrPivotChain) {
		t.Error("FetchError should match no other kind")
	}
	if !errors.Is(fetchErr, context.DeadlineExceeded) {
		t.Error("FetchError should unwrap to its cause")
	}

	chainErr := &PivotChainError{
		URL:    "https://lotl.example/p.xml",
		Stage:  StagePivot,
		Reason: "pivot unavailable",
		Err:    fetchErr,
	}
	if !errors.Is(chainErr, ErrPivotChain) || !errors.Is(chainErr, ErrFetch) {
		t.Error("PivotChainError should match its own kind and the link failure")
	}

	var asFetch *FetchError
	if !errors.As(chainErr, &asFetch) || asFetch.URL != fetchErr.URL {
		t.Error("PivotChainError should expose the wrapped FetchError")
	}
}

func TestErrors_Messages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{
			&FetchError{URL: "https://a", Stage: StageLOTL, Err: errors.New("refused")},
			"lotl https://a: fetch failed: refused",
		},
		{
			&ParseError{URL: "https://a", Stage: StageTrustedList, Err: errors.New("EOF")},
			"trusted-list https://a: parse failed: EOF",
		},
		{
			&SignatureError{URL: "https://a", Stage: StagePivot, Err: errors.New("bad digest")},
			"pivot https://a: signature verification failed: bad digest",
		},
		{
			&PivotChainError{URL: "https://a", Stage: StageLOTL, Reason: "too long"},
			"lotl https://a: pivot chain broken: too long",
		},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
