// Package redact strips credentials from strings before they are logged or
// returned to callers. The collector handles two kinds of secret: the external
// API access token, which travels in request URLs, and database/redis
// connection strings.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// Placeholders substituted for redacted values.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
)

// sensitiveParams are query parameters whose values are always masked.
var sensitiveParams = []string{"access_token", "token", "api_key", "key", "password", "secret"}

var (
	// scheme://user:pass@ in postgres/redis DSNs
	dsnCredRegex = regexp.MustCompile(`(?i)\b((?:postgres|postgresql|redis|rediss|mysql)://)[^@\s/]+@`)

	// access_token=... in request URLs
	queryTokenRegex = regexp.MustCompile(`(?i)\b(access_token|api_key|token|secret)=[^&\s"']+`)

	passwordRegex = regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[=:]\s*['"]?[^'"&\s]{3,}`)
	bearerRegex   = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/]{8,}=*`)
	jwtTokenRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

var rules = []rule{
	{jwtTokenRegex, RedactedJWTPlaceholder},
	{dsnCredRegex, "${1}" + RedactedCredentialPlaceholder + "@"},
	{queryTokenRegex, "${1}=" + RedactedKeyPlaceholder},
	{passwordRegex, RedactedCredentialPlaceholder},
	{bearerRegex, "Bearer " + RedactedKeyPlaceholder},
}

// String redacts credentials from input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.repl)
	}
	return result
}

// Error redacts credentials from err.Error(). A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// URL masks the userinfo password and sensitive query parameters of raw.
// Unparseable input falls back to String.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return String(raw)
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), RedactionPlaceholder)
		}
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			for _, p := range sensitiveParams {
				if strings.EqualFold(key, p) {
					q.Set(key, RedactionPlaceholder)
				}
			}
		}
		u.RawQuery = q.Encode()
	}
	// url.URL.String escapes the brackets of the placeholder; undo that so
	// logs stay readable.
	out := u.String()
	out = strings.ReplaceAll(out, url.QueryEscape(RedactionPlaceholder), RedactionPlaceholder)
	out = strings.ReplaceAll(out, url.PathEscape(RedactionPlaceholder), RedactionPlaceholder)
	return out
}
