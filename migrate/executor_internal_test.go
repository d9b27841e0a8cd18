package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		msg string
		exp bool
	}{
		{"", false},
		{"connection refused", true},
		{"Connection reset by peer", true},
		{"canceling statement due to statement timeout", true},
		{"deadlock detected", true},
		{"syntax error at or near \"TABEL\"", false},
		{"relation \"users\" already exists", false},
	}

	for _, tc := range testCases {
		t.Run(tc.msg, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.exp, retryable(tc.msg))
		})
	}
}
