package session

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerworks/band-crawler/internal/models"
)

type fakeStore struct {
	sessions map[string]*models.Session
	puts     int
	deletes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*models.Session)}
}

func (s *fakeStore) Get(_ context.Context, accountID string) (*models.Session, error) {
	return s.sessions[accountID], nil
}

func (s *fakeStore) Put(_ context.Context, sess *models.Session) error {
	s.puts++
	s.sessions[sess.AccountID] = sess
	return nil
}

func (s *fakeStore) Delete(_ context.Context, accountID string) error {
	s.deletes++
	delete(s.sessions, accountID)
	return nil
}

type fakePage struct {
	gotos    []string
	fills    map[string]string
	clicks   []string
	content  func(p *fakePage) string
	loggedIn func(p *fakePage) bool
}

func newFakePage() *fakePage {
	return &fakePage{
		fills:    make(map[string]string),
		content:  func(*fakePage) string { return "<html></html>" },
		loggedIn: func(*fakePage) bool { return true },
	}
}

func (p *fakePage) Goto(url string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.gotos = append(p.gotos, url)
	return nil, nil
}

func (p *fakePage) Fill(selector, value string, _ ...playwright.PageFillOptions) error {
	p.fills[selector] = value
	return nil
}

func (p *fakePage) Click(selector string, _ ...playwright.PageClickOptions) error {
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) Evaluate(_ string, _ ...interface{}) (interface{}, error) {
	return p.loggedIn(p), nil
}

func (p *fakePage) Content() (string, error) { return p.content(p), nil }

func (p *fakePage) URL() string {
	if len(p.gotos) == 0 {
		return "about:blank"
	}
	return p.gotos[len(p.gotos)-1]
}

func (p *fakePage) WaitForLoadState(_ ...playwright.PageWaitForLoadStateOptions) error {
	return nil
}

func (p *fakePage) Close(_ ...playwright.PageCloseOptions) error { return nil }

type fakeDriver struct {
	page     *fakePage
	captured []models.Cookie
	injected [][]models.Cookie
	cleared  int
}

func (d *fakeDriver) NewPage() (Page, error) { return d.page, nil }

func (d *fakeDriver) Cookies() ([]models.Cookie, error) { return d.captured, nil }

func (d *fakeDriver) SetCookies(cookies []models.Cookie) error {
	d.injected = append(d.injected, cookies)
	return nil
}

func (d *fakeDriver) ClearCookies() error {
	d.cleared++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAccount() models.Account {
	return models.Account{
		AccountID: "acct-1",
		LoginID:   "seller@example.com",
		Password:  "secret",
	}
}

func TestEnsureRestoresFreshSessionWithoutLogin(t *testing.T) {
	store := newFakeStore()
	store.sessions["acct-1"] = &models.Session{
		AccountID:  "acct-1",
		Cookies:    []models.Cookie{{Name: "band_session", Value: "tok"}},
		CapturedAt: time.Now().Add(-time.Hour),
		Valid:      true,
	}
	page := newFakePage()
	drv := &fakeDriver{page: page}
	mgr := NewManager(store, 24*time.Hour, testLogger())

	err := mgr.Ensure(context.Background(), drv, testAccount())

	require.NoError(t, err)
	assert.Len(t, drv.injected, 1, "stored cookies should be injected")
	assert.Empty(t, page.fills, "restore must not touch the credential form")
	assert.Equal(t, 0, drv.cleared)
	assert.Equal(t, 0, store.puts)
}

func TestEnsureFallsBackToLoginWhenSessionStale(t *testing.T) {
	store := newFakeStore()
	store.sessions["acct-1"] = &models.Session{
		AccountID:  "acct-1",
		Cookies:    []models.Cookie{{Name: "band_session", Value: "old"}},
		CapturedAt: time.Now().Add(-48 * time.Hour),
		Valid:      true,
	}
	page := newFakePage()
	drv := &fakeDriver{
		page:     page,
		captured: []models.Cookie{{Name: "band_session", Value: "fresh"}},
	}
	mgr := NewManager(store, 24*time.Hour, testLogger())

	err := mgr.Ensure(context.Background(), drv, testAccount())

	require.NoError(t, err)
	assert.Empty(t, drv.injected, "stale cookies must not be injected")
	assert.Equal(t, "seller@example.com", page.fills[DefaultSelectors().LoginID])
	require.Equal(t, 1, store.puts)
	assert.Equal(t, "fresh", store.sessions["acct-1"].Cookies[0].Value)
}

func TestRestoreDeletesServerRejectedSession(t *testing.T) {
	store := newFakeStore()
	store.sessions["acct-1"] = &models.Session{
		AccountID:  "acct-1",
		Cookies:    []models.Cookie{{Name: "band_session", Value: "revoked"}},
		CapturedAt: time.Now(),
		Valid:      true,
	}
	page := newFakePage()
	page.loggedIn = func(*fakePage) bool { return false }
	drv := &fakeDriver{page: page}
	mgr := NewManager(store, 24*time.Hour, testLogger())

	ok, err := mgr.Restore(context.Background(), drv, "acct-1")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, store.deletes)
}

func TestLoginBouncesChallengeOnce(t *testing.T) {
	page := newFakePage()
	page.content = func(p *fakePage) string {
		for _, url := range p.gotos {
			if url == DefaultEndpoints().Neutral {
				return "<html>login form</html>"
			}
		}
		return "<html>captcha</html>"
	}
	drv := &fakeDriver{
		page:     page,
		captured: []models.Cookie{{Name: "band_session", Value: "tok"}},
	}
	store := newFakeStore()
	mgr := NewManager(store, 24*time.Hour, testLogger())

	err := mgr.Login(context.Background(), drv, testAccount())

	require.NoError(t, err)
	assert.Contains(t, page.gotos, DefaultEndpoints().Neutral)
	assert.Equal(t, 1, store.puts)
}

func TestLoginFailsWhenChallengePersists(t *testing.T) {
	page := newFakePage()
	page.content = func(*fakePage) string { return "<html>captcha</html>" }
	drv := &fakeDriver{page: page}
	mgr := NewManager(newFakeStore(), 24*time.Hour, testLogger())

	err := mgr.Login(context.Background(), drv, testAccount())

	require.ErrorIs(t, err, ErrChallengeDetected)
	assert.Empty(t, page.fills, "no credentials should be typed into a challenge page")
}

func TestLoginFailsOnRejectedCredentials(t *testing.T) {
	page := newFakePage()
	page.content = func(p *fakePage) string {
		if len(p.clicks) > 0 {
			return "<html>비밀번호가 일치하지 않습니다</html>"
		}
		return "<html>login form</html>"
	}
	drv := &fakeDriver{page: page}
	store := newFakeStore()
	mgr := NewManager(store, 24*time.Hour, testLogger())

	err := mgr.Login(context.Background(), drv, testAccount())

	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, 0, store.puts)
}

func TestLoginClearsJarBeforeCredentialFlow(t *testing.T) {
	page := newFakePage()
	drv := &fakeDriver{
		page:     page,
		captured: []models.Cookie{{Name: "band_session", Value: "tok"}},
	}
	mgr := NewManager(newFakeStore(), 24*time.Hour, testLogger())

	err := mgr.Login(context.Background(), drv, testAccount())

	require.NoError(t, err)
	assert.Equal(t, 1, drv.cleared)
	assert.True(t, strings.HasPrefix(page.gotos[0], "https://auth.band.us/"))
}
