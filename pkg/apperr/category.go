package apperr

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// Category is the caller-facing failure class of a page operation.
type Category string

const (
	CategoryNetwork         Category = "NETWORK_ERROR"
	CategorySlowSiteTimeout Category = "SLOW_SITE_TIMEOUT"
	CategoryLoadingTimeout  Category = "LOADING_TIMEOUT"
	CategoryAuthentication  Category = "AUTHENTICATION_ERROR"
	CategorySSL             Category = "SSL_ERROR"
	CategoryBotDetection    Category = "BOT_DETECTION"
	CategoryJavaScript      Category = "JAVASCRIPT_ERROR"
	CategoryUnknown         Category = "UNKNOWN_ERROR"
)

// Failure is a categorized error, safe to hand to a UI or a retry policy.
type Failure struct {
	Category    Category `json:"category"`
	Message     string   `json:"message"`
	Hostname    string   `json:"hostname,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

var (
	sslMarkers = []string{
		"net::err_cert", "err_ssl", "ssl_error", "certificate", "x509:", "tls: ",
	}
	networkMarkers = []string{
		"net::err_name_not_resolved", "net::err_connection_refused", "net::err_connection_reset",
		"net::err_connection_closed", "net::err_internet_disconnected", "net::err_address_unreachable",
		"net::err_connection_timed_out", "enotfound", "econnrefused", "no such host", "connection refused",
	}
	timeoutMarkers = []string{
		"timeout", "deadline exceeded", "timed out",
	}
	botMarkers = []string{
		"cf-challenge", "challenge-platform", "just a moment...", "attention required! | cloudflare",
		"checking your browser", "verify you are human", "ddos protection by", "access denied | ",
		"complete the captcha", "solve the captcha", "captcha challenge", "are you a robot",
		"unusual traffic from your",
	}
	// captchaMarkers also appear in the footers of ordinary pages, so text
	// matches count only on a page with little else on it.
	captchaMarkers = []string{
		"captcha",
	}
	loginPathMarkers = []string{
		"/login", "/signin", "/sign-in", "/sign_in", "/auth", "/sso", "/oauth", "/session/new", "/account/login",
	}
)

// WithCategory tags err with an explicit category so Categorize does not guess.
func WithCategory(op string, category Category, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	metadata[MetaCategory] = category

	code := CodeInternal
	switch category {
	case CategoryJavaScript:
		code = CodeScriptFailed
	case CategorySlowSiteTimeout, CategoryLoadingTimeout:
		code = CodeTimeout
	case CategoryNetwork, CategorySSL, CategoryAuthentication, CategoryBotDetection:
		code = CodeNavigation
	}

	return Wrap(op, code, err, metadata)
}

// CategoryOf returns the category of err without building a Failure.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}

	if v, ok := Meta(err, MetaCategory); ok {
		if c, ok := v.(Category); ok {
			return c
		}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, sslMarkers):
		return CategorySSL
	case containsAny(msg, networkMarkers):
		return CategoryNetwork
	case errors.Is(err, context.DeadlineExceeded) || CodeOf(err) == CodeTimeout || containsAny(msg, timeoutMarkers):
		if stage, ok := Meta(err, MetaStage); ok && stage == StageNavigation {
			return CategorySlowSiteTimeout
		}

		return CategoryLoadingTimeout
	case CodeOf(err) == CodeScriptFailed:
		return CategoryJavaScript
	}

	return CategoryUnknown
}

// Categorize turns err into a Failure. rawURL is used for the hostname only.
func Categorize(err error, rawURL string) Failure {
	category := CategoryOf(err)
	if category == "" {
		category = CategoryUnknown
	}

	host := hostname(rawURL)

	f := Failure{
		Category:    category,
		Message:     message(category, host),
		Hostname:    host,
		Suggestions: Suggestions(category),
	}

	if err != nil {
		f.Detail = err.Error()
	}

	return f
}

// Suggestions lists remediation hints for a category.
func Suggestions(category Category) []string {
	switch category {
	case CategoryNetwork:
		return []string{
			"Check that the hostname is spelled correctly and resolves",
			"Verify the site is reachable from the machine running the browser",
		}
	case CategorySlowSiteTimeout:
		return []string{
			"The site took too long to respond; try again or raise BROWSER_NAV_TIMEOUT",
		}
	case CategoryLoadingTimeout:
		return []string{
			"The page started loading but never settled; try a lighter wait policy such as domcontentloaded",
		}
	case CategoryAuthentication:
		return []string{
			"The page redirected to a login screen; retry with credentials or an authenticated session",
		}
	case CategorySSL:
		return []string{
			"The certificate could not be verified; check the site's TLS configuration",
		}
	case CategoryBotDetection:
		return []string{
			"The site served a bot challenge; retry later or from an allow-listed network",
		}
	case CategoryJavaScript:
		return []string{
			"The page's script environment rejected the extraction script; the page may override core DOM APIs",
		}
	default:
		return []string{
			"Retry the request; if it keeps failing, inspect the raw detail",
		}
	}
}

// LooksLikeLoginRedirect reports whether navigation to requested ended on an
// authentication-looking path that the caller did not ask for.
func LooksLikeLoginRedirect(requested, final string) bool {
	if final == "" || requested == final {
		return false
	}

	if isLoginPath(requested) {
		return false
	}

	return isLoginPath(final)
}

// sparsePageWords is the most words a page may carry for a bare CAPTCHA
// mention in its text to mark it as a challenge.
const sparsePageWords = 60

// HasBotMarkers reports whether a page title or text snippet looks like a
// challenge page.
func HasBotMarkers(title, text string) bool {
	title, text = strings.ToLower(title), strings.ToLower(text)

	if containsAny(title, botMarkers) || containsAny(text, botMarkers) || containsAny(title, captchaMarkers) {
		return true
	}

	return containsAny(text, captchaMarkers) && len(strings.Fields(text)) <= sparsePageWords
}

func isLoginPath(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	p := strings.ToLower(u.Path)

	return containsAny(p, loginPathMarkers)
}

func message(category Category, host string) string {
	switch category {
	case CategoryNetwork:
		if host != "" {
			return "Could not connect to " + host
		}

		return "Could not connect to the site"
	case CategorySlowSiteTimeout:
		return "The site did not respond in time"
	case CategoryLoadingTimeout:
		return "The page did not finish loading in time"
	case CategoryAuthentication:
		return "The page requires authentication"
	case CategorySSL:
		return "The site's certificate is not trusted"
	case CategoryBotDetection:
		return "The site blocked automated access"
	case CategoryJavaScript:
		return "Element extraction failed inside the page"
	default:
		return "Unexpected error while processing the page"
	}
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	return u.Hostname()
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}

	return false
}
