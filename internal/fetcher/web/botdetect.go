package web

import (
	"net/http"
	"strings"
)

// Challenge-page signatures seen in the wild. Matching is case-insensitive
// and deliberately narrow: a false positive permanently marks a source as
// bot-protected.
var challengeMarkers = []string{
	"verify you are human",
	"checking your browser before accessing",
	"just a moment...",
	"attention required! | cloudflare",
	"cf-challenge",
	"px-captcha",
	"h-captcha",
	"g-recaptcha",
	"ddos protection by",
	"请完成安全验证",
}

var forbiddenMarkers = []string{
	"access denied",
	"forbidden",
	"blocked",
	"captcha",
	"cloudflare",
	"bot detection",
	"automated requests",
}

// IsBotProtected reports whether a rendered page is an anti-automation
// challenge rather than content. A 403/429 needs only a weak marker; any
// other status needs an explicit challenge signature.
func IsBotProtected(statusCode int, html string) bool {
	lower := strings.ToLower(html)

	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		for _, marker := range forbiddenMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}

	return false
}
