package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/sellerworks/band-crawler/internal/models"
)

// Manager establishes authenticated sessions: restore from a stored
// cookie jar when possible, credential login otherwise. Jar writes for
// the same account are serialized so concurrent runs never interleave
// half-captured cookies.
type Manager struct {
	store     Store
	ttl       time.Duration
	selectors Selectors
	endpoints Endpoints
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires a manager over the given session store. ttl bounds
// how old a stored jar may be before it is considered stale and skipped.
func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		ttl:       ttl,
		selectors: DefaultSelectors(),
		endpoints: DefaultEndpoints(),
		logger:    logger.With("component", "session_manager"),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Manager) accountLock(accountID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[accountID] = l
	}
	return l
}

// Ensure leaves the driver holding a validated session for the account,
// restoring first and falling back to credential login.
func (m *Manager) Ensure(ctx context.Context, drv Driver, account models.Account) error {
	ok, err := m.Restore(ctx, drv, account.AccountID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return m.Login(ctx, drv, account)
}

// Restore loads the stored cookie jar into the driver and validates it
// against a live page. It returns (false, nil) when no usable jar
// exists; only infrastructure failures surface as errors.
func (m *Manager) Restore(ctx context.Context, drv Driver, accountID string) (bool, error) {
	sess, err := m.store.Get(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return false, nil
	}
	if sess.Stale(m.ttl) {
		m.logger.Info("stored session is stale, skipping restore",
			"account_id", accountID,
			"captured_at", sess.CapturedAt)
		return false, nil
	}

	if err := drv.SetCookies(sess.Cookies); err != nil {
		return false, fmt.Errorf("failed to inject cookies: %w", err)
	}

	page, err := drv.NewPage()
	if err != nil {
		return false, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if _, err := page.Goto(m.endpoints.Home, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return false, fmt.Errorf("failed to navigate for session check: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ok, err := m.isLoggedIn(page)
	if err != nil {
		return false, err
	}
	if !ok {
		// Server no longer honors the jar. Forget it so the next
		// attempt goes straight to login.
		m.logger.Info("stored session rejected by server", "account_id", accountID)
		if err := m.store.Delete(ctx, accountID); err != nil {
			m.logger.Warn("failed to delete rejected session", "error", err)
		}
		return false, nil
	}

	m.logger.Info("session restored from stored cookies", "account_id", accountID)
	return true, nil
}

// Login performs a credential login and persists the resulting cookie
// jar. A bot-verification interstitial is bounced exactly once: navigate
// to a neutral page, return, and retry. A second challenge or a
// credential rejection is terminal.
func (m *Manager) Login(ctx context.Context, drv Driver, account models.Account) error {
	lock := m.accountLock(account.AccountID)
	lock.Lock()
	defer lock.Unlock()

	if err := drv.ClearCookies(); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}

	page, err := drv.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	defer page.Close()

	err = m.attemptLogin(ctx, page, account)
	if errors.Is(err, ErrChallengeDetected) {
		m.logger.Warn("challenge on login, bouncing once", "account_id", account.AccountID)
		if _, gerr := page.Goto(m.endpoints.Neutral, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
		}); gerr != nil {
			return fmt.Errorf("failed to bounce to neutral page: %w", gerr)
		}
		err = m.attemptLogin(ctx, page, account)
	}
	if err != nil {
		return err
	}

	cookies, err := drv.Cookies()
	if err != nil {
		return fmt.Errorf("failed to capture cookies: %w", err)
	}
	sess := &models.Session{
		AccountID:  account.AccountID,
		Cookies:    cookies,
		CapturedAt: time.Now(),
		Valid:      true,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.logger.Info("credential login succeeded",
		"account_id", account.AccountID,
		"cookies", len(cookies))
	return nil
}

func (m *Manager) attemptLogin(ctx context.Context, page Page, account models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := page.Goto(m.endpoints.Login, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	if detected, err := m.hasChallenge(page); err != nil {
		return err
	} else if detected {
		return ErrChallengeDetected
	}

	if err := page.Fill(m.selectors.LoginID, account.LoginID); err != nil {
		return fmt.Errorf("failed to fill login id: %w", err)
	}
	if err := page.Fill(m.selectors.Password, account.Password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	if err := page.Click(m.selectors.Submit); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	}); err != nil {
		return fmt.Errorf("failed waiting for login result: %w", err)
	}

	if detected, err := m.hasChallenge(page); err != nil {
		return err
	} else if detected {
		return ErrChallengeDetected
	}
	if rejected, err := m.hasBadCredentials(page); err != nil {
		return err
	} else if rejected {
		return ErrAuthenticationFailed
	}

	ok, err := m.isLoggedIn(page)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("login submitted but no authenticated marker found at %s", page.URL())
	}
	return nil
}

func (m *Manager) isLoggedIn(page Page) (bool, error) {
	for _, sel := range m.selectors.LoggedInMarkers {
		found, err := probeSelector(page, sel)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) hasChallenge(page Page) (bool, error) {
	return contentContains(page, m.selectors.ChallengeMarkers)
}

func (m *Manager) hasBadCredentials(page Page) (bool, error) {
	return contentContains(page, m.selectors.BadCredentialMarkers)
}

func probeSelector(page Page, selector string) (bool, error) {
	result, err := page.Evaluate(`(sel) => !!document.querySelector(sel)`, selector)
	if err != nil {
		return false, fmt.Errorf("failed to probe selector %q: %w", selector, err)
	}
	found, _ := result.(bool)
	return found, nil
}

func contentContains(page Page, markers []string) (bool, error) {
	content, err := page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to read page content: %w", err)
	}
	lower := strings.ToLower(content)
	for _, marker := range markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true, nil
		}
	}
	return false, nil
}
