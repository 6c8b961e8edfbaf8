package fetch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	bibErrors "github.com/lepinkainen/biblio/internal/errors"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{
			name: "rate limit error",
			err:  bibErrors.NewRateLimitError("throttled"),
			want: ClassRateLimited,
		},
		{
			name: "rate limit with retry hint",
			err:  bibErrors.NewRateLimitErrorWithRetry("throttled", 10*time.Second),
			want: ClassRateLimited,
		},
		{
			name: "wrapped rate limit error",
			err:  fmt.Errorf("fetching page: %w", bibErrors.NewRateLimitError("throttled")),
			want: ClassRateLimited,
		},
		{
			name: "auth error",
			err:  bibErrors.NewAuthError("session rejected"),
			want: ClassAuthExpired,
		},
		{
			name: "malformed error",
			err:  bibErrors.NewMalformedError("html instead of epub", 512),
			want: ClassMalformed,
		},
		{
			name: "not found",
			err:  bibErrors.NewNotFoundError("book 42"),
			want: ClassPermanent,
		},
		{
			name: "credential error",
			err:  bibErrors.NewCredentialError("login failed", nil),
			want: ClassCredential,
		},
		{
			name: "api status error",
			err:  bibErrors.NewAPIStatusError(401, "invalid key"),
			want: ClassPermanent,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: ClassTransient,
		},
		{
			name: "net timeout",
			err:  timeoutErr{},
			want: ClassTransient,
		},
		{
			name: "url error wrapping timeout",
			err:  &url.Error{Op: "Get", URL: "http://example.com", Err: timeoutErr{}},
			want: ClassTransient,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			want: ClassTransient,
		},
		{
			name: "connection reset",
			err:  fmt.Errorf("read: %w", syscall.ECONNRESET),
			want: ClassTransient,
		},
		{
			name: "unknown error defaults to transient",
			err:  fmt.Errorf("something novel"),
			want: ClassTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
