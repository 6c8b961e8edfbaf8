package webclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lepinkainen/biblio/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAttachesCookies(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("remix_userkey"); err == nil {
			gotCookie = c.Value
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := New()
	body, err := client.Get(context.Background(), server.URL, map[string]string{"remix_userkey": "abc123"})
	require.NoError(t, err)

	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "abc123", gotCookie)
}

func TestGetStatusMapping(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		headers map[string]string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "throttled with retry-after",
			status: http.StatusTooManyRequests,
			headers: map[string]string{
				"Retry-After": "7",
			},
			check: func(t *testing.T, err error) {
				var rlErr *errors.RateLimitError
				require.ErrorAs(t, err, &rlErr)
				assert.Equal(t, 7*time.Second, rlErr.RetryAfter)
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsAuthError(err))
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsAuthError(err))
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsNotFoundError(err))
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				assert.False(t, errors.IsAuthError(err))
				assert.False(t, errors.IsRateLimitError(err))
				assert.Contains(t, err.Error(), "HTTP 500")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			_, err := New().Get(context.Background(), server.URL, nil)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestGetJSON(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Dune","pages":412}`))
	}))
	defer server.Close()

	var out struct {
		Title string `json:"title"`
		Pages int    `json:"pages"`
	}
	err := New().GetJSON(context.Background(), server.URL, map[string]string{"Authorization": "key-1"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "key-1", gotAuth)
	assert.Equal(t, "Dune", out.Title)
	assert.Equal(t, 412, out.Pages)
}

func TestGetJSONMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>error</html>"))
	}))
	defer server.Close()

	var out map[string]any
	err := New().GetJSON(context.Background(), server.URL, nil, &out)
	require.Error(t, err)
	assert.True(t, errors.IsMalformedError(err))
}

func TestDownloadFile(t *testing.T) {
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i % 251)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "book.epub")

	var lastWritten int64
	err := New().DownloadFile(context.Background(), server.URL, dest, nil, func(written, total int64) {
		lastWritten = written
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, int64(len(content)), lastWritten)
}

func TestGetFileSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1234")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	size, err := New().GetFileSize(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
}

func TestUserAgentRotation(t *testing.T) {
	seen := make(map[string]bool)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.Header.Get("User-Agent")] = true
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithUserAgentRotation())
	for i := 0; i < len(userAgents); i++ {
		_, err := client.Get(context.Background(), server.URL, nil)
		require.NoError(t, err)
	}

	assert.Len(t, seen, len(userAgents))
}
