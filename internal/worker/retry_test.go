package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("llm call failed: 429 Too Many Requests"), true},
		{"timeout", errors.New("Get \"https://example.com\": net/http: request timeout"), true},
		{"bad gateway", fmt.Errorf("fetch source: unexpected status 502"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"dns", errors.New("dial tcp: lookup example.invalid: no such host"), true},
		{"deadline", errors.New("context deadline exceeded"), true},
		{"schema rejection", errors.New("extraction response rejected: missing properties: 'citations'"), false},
		{"blocked", errors.New("fetch blocked: https://example.com returned 403"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.retryable, IsRetryableError(tc.err))
		})
	}
}
