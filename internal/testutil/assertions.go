package testutil

import (
	"fmt"
	"testing"
)

func formatMsg(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return "assertion failed"
	}
	if s, ok := msgAndArgs[0].(string); ok {
		if len(msgAndArgs) == 1 {
			return s
		}
		return fmt.Sprintf(s, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}

// RequireNoError fails the test immediately if err is non-nil.
func RequireNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", formatMsg(msgAndArgs), err)
	}
}

// RequireEqual fails the test immediately if expected != actual.
func RequireEqual[T comparable](t *testing.T, expected, actual T, msgAndArgs ...any) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", formatMsg(msgAndArgs), expected, actual)
	}
}

// RequireLen fails if len(s) != n.
func RequireLen[T ~[]E, E any](t *testing.T, s T, n int, msgAndArgs ...any) {
	t.Helper()
	if len(s) != n {
		t.Fatalf("%s: expected len=%d, got %d", formatMsg(msgAndArgs), n, len(s))
	}
}
