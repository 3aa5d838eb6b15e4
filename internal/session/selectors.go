package session

// Selectors carries the page hooks the login flow depends on. They are
// data, not code, so a markup change is a one-line fix.
type Selectors struct {
	LoginID  string
	Password string
	Submit   string

	// LoggedInMarkers are probed in order; the first hit proves an
	// authenticated page.
	LoggedInMarkers []string

	// ChallengeMarkers are substrings of page content that indicate a
	// bot verification interstitial.
	ChallengeMarkers []string

	// BadCredentialMarkers are substrings shown on credential rejection.
	BadCredentialMarkers []string
}

// DefaultSelectors targets the current Band web markup.
func DefaultSelectors() Selectors {
	return Selectors{
		LoginID:  "input#input_email",
		Password: "input#pw",
		Submit:   "button[type=submit]",
		LoggedInMarkers: []string{
			"button.profileInner",
			"a[href*='/my']",
			"div.myBandArea",
		},
		ChallengeMarkers: []string{
			"captcha",
			"자동입력 방지",
			"보안 확인",
			"verify you are human",
		},
		BadCredentialMarkers: []string{
			"비밀번호가 일치하지 않습니다",
			"등록되지 않은 이메일",
			"incorrect password",
		},
	}
}

// Endpoints are the platform URLs the manager navigates between.
type Endpoints struct {
	Login   string
	Home    string
	Neutral string
}

// DefaultEndpoints returns the production Band endpoints. Neutral is an
// unauthenticated page used to bounce off a challenge interstitial.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:   "https://auth.band.us/email_login",
		Home:    "https://band.us/",
		Neutral: "https://band.us/about",
	}
}
