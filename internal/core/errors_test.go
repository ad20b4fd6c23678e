package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorForReplyCode(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{CodeNotFound, ExitNotFound},
		{CodeAccess, ExitAccess},
		{CodeUpstream, ExitUpstream},
		{CodeConflict, ExitConflict},
		{CodeInvalid, ExitUsage},
		{"UNKNOWN", ExitRuntime},
	}

	for _, test := range tests {
		err := ErrorForReplyCode(test.code, "message")
		if err.Code != test.expected {
			t.Fatalf("code %s expected %d got %d", test.code, test.expected, err.Code)
		}
	}
}

func TestExitCodeUnwrapsSentinels(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{nil, ExitOK},
		{fmt.Errorf("getBook: %w", ErrNotFound), ExitNotFound},
		{fmt.Errorf("getBooks: %w", ErrUpstreamUnavailable), ExitUpstream},
		{ErrAccessDenied, ExitAccess},
		{WrapError(ExitUsage, "bad", ErrNotFound), ExitUsage},
		{errors.New("boom"), ExitRuntime},
	}
	for _, test := range tests {
		if got := ExitCode(test.err); got != test.expected {
			t.Fatalf("%v: expected %d got %d", test.err, test.expected, got)
		}
	}
}

func TestReplyCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrNotFound, ErrAccessDenied, ErrUpstreamUnavailable, ErrMediaUnavailable} {
		code := ReplyCode(fmt.Errorf("wrapped: %w", sentinel))
		if !errors.Is(ErrorForReplyCode(code, "m"), sentinel) {
			t.Fatalf("code %s lost sentinel %v", code, sentinel)
		}
	}
}
