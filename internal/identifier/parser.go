// Package identifier turns raw text lines into canonical external-entity
// identifiers and deduplicates them within one submitted batch.
package identifier

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
)

// Hints attached to ValidationError values.
const (
	HintFormat     = "expected a numeric id, -id, screen name, or URL such as https://vk.com/club123"
	HintZeroID     = "numeric id must be a positive integer"
	HintOverflow   = "numeric id is out of range"
	HintURLPath    = "URL must name an entity, e.g. https://vk.com/club123 or https://vk.com/name"
	HintScreenName = "screen name must be 2-64 characters of letters, digits, '_' or '.', and not all digits"
	HintMultiple   = "expected exactly one identifier per line"
)

const (
	minScreenNameLen = 2
	maxScreenNameLen = 64
)

var (
	prefixedIDPattern = regexp.MustCompile(`^(?i)(club|public|event)(\d+)$`)
	screenNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	digitsPattern     = regexp.MustCompile(`^\d+$`)
)

// Result is the outcome of parsing one submitted batch.
type Result struct {
	// Identifiers holds unique identifiers in first-seen order.
	Identifiers []domain.ExternalIdentifier
	// Errors holds one entry per malformed line.
	Errors []*domain.ValidationError
	// Duplicates counts lines that normalized to an already seen identifier.
	Duplicates int
	// Lines counts non-blank, non-comment lines.
	Lines int
}

// Parse parses every line and deduplicates by canonical key. Malformed lines
// never stop parsing; they are collected in Result.Errors.
func Parse(lines []string) Result {
	res := Result{
		Identifiers: make([]domain.ExternalIdentifier, 0, len(lines)),
	}
	seen := make(map[string]struct{}, len(lines))

	for i, raw := range lines {
		id, ok, err := ParseLine(raw, i+1)
		if !ok {
			continue
		}
		res.Lines++
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		key := id.Key()
		if _, dup := seen[key]; dup {
			res.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		res.Identifiers = append(res.Identifiers, id)
	}
	return res
}

// ParseReader reads newline-separated input and parses it like Parse.
func ParseReader(r io.Reader) (Result, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to read identifiers: %w", err)
	}
	return Parse(lines), nil
}

// ParseLine parses a single line. ok is false for blank and comment-only
// lines, which are not errors. lineNo is recorded on the identifier and on
// any returned error.
func ParseLine(raw string, lineNo int) (id domain.ExternalIdentifier, ok bool, err *domain.ValidationError) {
	text := strings.TrimSpace(stripComment(raw))
	if text == "" {
		return domain.ExternalIdentifier{}, false, nil
	}

	invalid := func(hint string) *domain.ValidationError {
		return &domain.ValidationError{Line: lineNo, Raw: raw, Hint: hint}
	}

	if strings.ContainsAny(text, " \t") {
		return domain.ExternalIdentifier{}, true, invalid(HintMultiple)
	}

	var hint string
	switch {
	case looksLikeURL(text):
		id, hint = parseURL(text)
	case strings.HasPrefix(text, "-"):
		id, hint = parseSignedID(text)
	case digitsPattern.MatchString(text):
		id, hint = parseNumericID(text)
	default:
		id, hint = parseBare(strings.TrimPrefix(text, "@"))
	}
	if hint != "" {
		return domain.ExternalIdentifier{}, true, invalid(hint)
	}
	id.Line = lineNo
	return id, true, nil
}

// stripComment cuts the line at the first '#' or at a '//' that does not
// belong to a URL scheme.
func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	for i := 0; i+1 < len(line); i++ {
		if line[i] != '/' || line[i+1] != '/' {
			continue
		}
		if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
			return line[:i]
		}
		i++
	}
	return line
}

func looksLikeURL(text string) bool {
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	slash := strings.IndexByte(text, '/')
	return slash > 0 && strings.Contains(text[:slash], ".")
}

func parseURL(text string) (domain.ExternalIdentifier, string) {
	withScheme := text
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		withScheme = "https://" + text
	}
	u, err := url.Parse(withScheme)
	if err != nil || !strings.Contains(u.Host, ".") {
		return domain.ExternalIdentifier{}, HintFormat
	}

	segment, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if segment == "" {
		return domain.ExternalIdentifier{}, HintURLPath
	}

	id, hint := parseBare(segment)
	if hint != "" {
		if hint == HintScreenName {
			hint = HintURLPath
		}
		return domain.ExternalIdentifier{}, hint
	}
	id.Kind = domain.IdentifierURL
	id.URL = text
	return id, ""
}

func parseSignedID(text string) (domain.ExternalIdentifier, string) {
	digits := text[1:]
	if !digitsPattern.MatchString(digits) {
		return domain.ExternalIdentifier{}, HintFormat
	}
	return parseNumericID(digits)
}

func parseNumericID(digits string) (domain.ExternalIdentifier, string) {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return domain.ExternalIdentifier{}, HintOverflow
	}
	if n == 0 {
		return domain.ExternalIdentifier{}, HintZeroID
	}
	return domain.NumericIdentifier(n), ""
}

// parseBare handles club<N>/public<N>/event<N> and plain screen names.
func parseBare(text string) (domain.ExternalIdentifier, string) {
	if m := prefixedIDPattern.FindStringSubmatch(text); m != nil {
		return parseNumericID(m[2])
	}
	if len(text) < minScreenNameLen || len(text) > maxScreenNameLen ||
		!screenNamePattern.MatchString(text) || digitsPattern.MatchString(text) {
		return domain.ExternalIdentifier{}, HintScreenName
	}
	return domain.ScreenNameIdentifier(text), ""
}
