package domain

import (
	"strconv"
	"strings"
)

// IdentifierKind tags which form an ExternalIdentifier was written in.
type IdentifierKind string

// Identifier kinds.
const (
	IdentifierNumeric    IdentifierKind = "numeric"
	IdentifierScreenName IdentifierKind = "screen_name"
	IdentifierURL        IdentifierKind = "url"
)

// ExternalIdentifier is one parsed, not yet resolved reference to an external
// entity. URL identifiers carry the URL plus whichever of NumericID or
// ScreenName the URL encodes.
type ExternalIdentifier struct {
	Kind       IdentifierKind `json:"kind"`
	NumericID  int64          `json:"numeric_id,omitempty"`
	ScreenName string         `json:"screen_name,omitempty"`
	URL        string         `json:"url,omitempty"`
	Line       int            `json:"line,omitempty"`
}

// NumericIdentifier builds an identifier for a known numeric id.
func NumericIdentifier(id int64) ExternalIdentifier {
	return ExternalIdentifier{Kind: IdentifierNumeric, NumericID: id}
}

// ScreenNameIdentifier builds an identifier for a screen name.
func ScreenNameIdentifier(name string) ExternalIdentifier {
	return ExternalIdentifier{Kind: IdentifierScreenName, ScreenName: strings.ToLower(name)}
}

// HasNumericID reports whether the identifier already names a numeric id.
func (i ExternalIdentifier) HasNumericID() bool {
	return i.NumericID > 0
}

// Key returns the canonical deduplication key: "id:<n>" or "name:<screen_name>".
func (i ExternalIdentifier) Key() string {
	if i.HasNumericID() {
		return "id:" + strconv.FormatInt(i.NumericID, 10)
	}
	return "name:" + i.ScreenName
}

// LookupValue is the token sent to the external API for this identifier.
func (i ExternalIdentifier) LookupValue() string {
	if i.HasNumericID() {
		return strconv.FormatInt(i.NumericID, 10)
	}
	return i.ScreenName
}

// String implements fmt.Stringer.
func (i ExternalIdentifier) String() string {
	return i.Key()
}
