package download

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	bibErrors "github.com/lepinkainen/biblio/internal/errors"
	"github.com/lepinkainen/biblio/internal/session"
	"github.com/lepinkainen/biblio/internal/webclient"
)

const defaultLoginTimeout = 2 * time.Minute

var (
	chromedpExecAllocator = chromedp.NewExecAllocator
	chromedpContext       = chromedp.NewContext
	chromedpRunner        = chromedp.Run
)

type LoginOptions struct {
	BaseURL  string
	Email    string
	Password string
	Headless bool
	Timeout  time.Duration
}

// NewBrowserLogin returns a login collaborator that drives a browser
// through the site's email/password form and harvests the resulting
// cookies.
func NewBrowserLogin(opts LoginOptions) session.LoginFunc {
	return func(ctx context.Context) (*session.Session, error) {
		return loginWithBrowser(ctx, opts)
	}
}

func loginWithBrowser(parentCtx context.Context, opts LoginOptions) (*session.Session, error) {
	if opts.Email == "" || opts.Password == "" {
		return nil, bibErrors.NewCredentialError("site login requires both email and password", nil)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultLoginTimeout
	}

	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	allocCtx, cancelAllocator := chromedpExecAllocator(ctx, buildExecAllocatorOptions(opts)...)
	defer cancelAllocator()

	browserCtx, cancelBrowser := chromedpContext(allocCtx)
	defer cancelBrowser()

	slog.Info("Logging in to site", "url", opts.BaseURL, "email", opts.Email)

	tasks := chromedp.Tasks{
		chromedp.Navigate(opts.BaseURL + "/login"),
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, opts.Email, chromedp.ByQuery),
		chromedp.WaitVisible(`input[name="password"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, opts.Password, chromedp.ByQuery),
		chromedp.Click(`//button[@type="submit"]`, chromedp.BySearch),
		// The logout link only renders for an authenticated account.
		chromedp.WaitVisible(`//a[contains(@href, "logout")]`, chromedp.BySearch),
	}
	if err := chromedpRunner(browserCtx, tasks...); err != nil {
		return nil, fmt.Errorf("site login did not reach a logged-in page: %w", err)
	}

	cookies, err := collectCookies(browserCtx)
	if err != nil {
		return nil, err
	}

	slog.Info("Site login completed", "cookies", len(cookies))
	return &session.Session{
		Cookies:   cookies,
		CreatedAt: time.Now(),
	}, nil
}

func collectCookies(ctx context.Context) (map[string]string, error) {
	cookies := make(map[string]string)
	err := chromedpRunner(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		got, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range got {
			cookies[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to collect session cookies: %w", err)
	}
	return cookies, nil
}

func buildExecAllocatorOptions(opts LoginOptions) []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-default-browser-check", true),
	}
}

// NewProfileProbe returns a validity check that loads the account
// profile page with the session cookies. A response that looks like the
// login page means the session has expired.
func NewProfileProbe(client *webclient.Client, baseURL string) session.ProbeFunc {
	return func(ctx context.Context, s *session.Session) error {
		body, err := client.Get(ctx, baseURL+"/profile", s.Cookies)
		if err != nil {
			return err
		}

		page := strings.ToLower(string(body))
		if !strings.Contains(page, "logout") {
			return bibErrors.NewAuthError("profile page rejected the session")
		}
		return nil
	}
}
