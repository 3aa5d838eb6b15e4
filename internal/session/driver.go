package session

import (
	"github.com/sellerworks/band-crawler/internal/browser"
	"github.com/sellerworks/band-crawler/internal/models"
)

// browserDriver adapts browser.Browser to the Driver interface.
type browserDriver struct {
	b *browser.Browser
}

// NewBrowserDriver wraps a live browser so the manager can drive it.
func NewBrowserDriver(b *browser.Browser) Driver {
	return &browserDriver{b: b}
}

func (d *browserDriver) NewPage() (Page, error) {
	return d.b.NewPage()
}

func (d *browserDriver) Cookies() ([]models.Cookie, error) {
	return d.b.Cookies()
}

func (d *browserDriver) SetCookies(cookies []models.Cookie) error {
	return d.b.SetCookies(cookies)
}

func (d *browserDriver) ClearCookies() error {
	return d.b.ClearCookies()
}
