// Package session owns login state for platform accounts: cookie-jar
// restore, credential login with a single challenge bounce, and
// persistence of the captured jar.
package session

import (
	"context"
	"errors"

	"github.com/playwright-community/playwright-go"

	"github.com/sellerworks/band-crawler/internal/models"
)

var (
	// ErrAuthenticationFailed means the platform rejected the
	// credentials. Fatal for the account: callers disable automation
	// rather than retry.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrChallengeDetected means bot verification was still present
	// after the one allowed bounce-and-retry. Fatal for this run.
	ErrChallengeDetected = errors.New("challenge detected")
)

// Store persists cookie jars keyed by account id. A missing session is
// returned as (nil, nil).
type Store interface {
	Get(ctx context.Context, accountID string) (*models.Session, error)
	Put(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, accountID string) error
}

// Page is the subset of a browser page the manager drives. It is
// satisfied by playwright.Page and by fakes in tests.
type Page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Fill(selector string, value string, options ...playwright.PageFillOptions) error
	Click(selector string, options ...playwright.PageClickOptions) error
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	Content() (string, error)
	URL() string
	WaitForLoadState(options ...playwright.PageWaitForLoadStateOptions) error
	Close(options ...playwright.PageCloseOptions) error
}

// Driver is a live browser context: page factory plus cookie jar access.
type Driver interface {
	NewPage() (Page, error)
	Cookies() ([]models.Cookie, error)
	SetCookies(cookies []models.Cookie) error
	ClearCookies() error
}
