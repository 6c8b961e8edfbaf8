package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bibErrors "github.com/lepinkainen/biblio/internal/errors"
	"github.com/lepinkainen/biblio/internal/session"
	"github.com/lepinkainen/biblio/internal/webclient"
)

func stubChromedpRunner(t *testing.T, fn func(ctx context.Context, actions ...chromedp.Action) error) *int {
	t.Helper()

	calls := 0
	orig := chromedpRunner
	chromedpRunner = func(ctx context.Context, actions ...chromedp.Action) error {
		calls++
		return fn(ctx, actions...)
	}
	t.Cleanup(func() { chromedpRunner = orig })
	return &calls
}

func TestLoginRequiresCredentials(t *testing.T) {
	_, err := loginWithBrowser(context.Background(), LoginOptions{BaseURL: "https://site.example"})
	require.Error(t, err)
	assert.True(t, bibErrors.IsCredentialError(err))
}

func TestBrowserLoginReturnsSession(t *testing.T) {
	calls := stubChromedpRunner(t, func(ctx context.Context, actions ...chromedp.Action) error {
		return nil
	})

	login := NewBrowserLogin(LoginOptions{
		BaseURL:  "https://site.example",
		Email:    "reader@example.com",
		Password: "hunter2",
		Timeout:  time.Second,
	})

	sess, err := login(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.False(t, sess.CreatedAt.IsZero())
	// One run for the form, one for cookie collection.
	assert.Equal(t, 2, *calls)
}

func TestBrowserLoginPropagatesFailure(t *testing.T) {
	stubChromedpRunner(t, func(ctx context.Context, actions ...chromedp.Action) error {
		return errors.New("no logout link")
	})

	login := NewBrowserLogin(LoginOptions{
		BaseURL:  "https://site.example",
		Email:    "reader@example.com",
		Password: "wrong",
		Timeout:  time.Second,
	})

	_, err := login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logged-in page")
}

func TestProfileProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("sid")
		if err != nil || cookie.Value != "valid" {
			_, _ = w.Write([]byte(`<html><a href="/login">Log in</a></html>`))
			return
		}
		_, _ = w.Write([]byte(`<html><a href="/logout">Log out</a></html>`))
	}))
	t.Cleanup(srv.Close)

	probe := NewProfileProbe(webclient.New(), srv.URL)

	err := probe(context.Background(), &session.Session{Cookies: map[string]string{"sid": "valid"}})
	require.NoError(t, err)

	err = probe(context.Background(), &session.Session{Cookies: map[string]string{"sid": "stale"}})
	require.Error(t, err)
	assert.True(t, bibErrors.IsAuthError(err))
}
