package identifier

import (
	"strings"
	"testing"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantKey  string
		wantKind domain.IdentifierKind
		wantHint string
		skipped  bool
	}{
		{name: "numeric", input: "12345", wantKey: "id:12345", wantKind: domain.IdentifierNumeric},
		{name: "signed numeric", input: "-12345", wantKey: "id:12345", wantKind: domain.IdentifierNumeric},
		{name: "surrounding whitespace", input: "  \t42  ", wantKey: "id:42", wantKind: domain.IdentifierNumeric},
		{name: "club prefix", input: "club777", wantKey: "id:777", wantKind: domain.IdentifierNumeric},
		{name: "public prefix upper case", input: "PUBLIC9", wantKey: "id:9", wantKind: domain.IdentifierNumeric},
		{name: "screen name", input: "Durov_Team", wantKey: "name:durov_team", wantKind: domain.IdentifierScreenName},
		{name: "screen name with at", input: "@apiclub", wantKey: "name:apiclub", wantKind: domain.IdentifierScreenName},
		{name: "url numeric", input: "https://vk.com/club123", wantKey: "id:123", wantKind: domain.IdentifierURL},
		{name: "url event", input: "http://m.vk.com/event55?from=feed", wantKey: "id:55", wantKind: domain.IdentifierURL},
		{name: "url screen name", input: "https://vk.com/Some.Group/", wantKey: "name:some.group", wantKind: domain.IdentifierURL},
		{name: "url without scheme", input: "vk.com/public42", wantKey: "id:42", wantKind: domain.IdentifierURL},
		{name: "trailing hash comment", input: "club5 # main group", wantKey: "id:5", wantKind: domain.IdentifierNumeric},
		{name: "trailing slash comment", input: "https://vk.com/abc // old", wantKey: "name:abc", wantKind: domain.IdentifierURL},
		{name: "blank", input: "   ", skipped: true},
		{name: "comment only", input: "# header", skipped: true},
		{name: "slash comment only", input: "// header", skipped: true},
		{name: "zero", input: "0", wantHint: HintZeroID},
		{name: "negative zero", input: "-0", wantHint: HintZeroID},
		{name: "overflow", input: "99999999999999999999", wantHint: HintOverflow},
		{name: "bad signed", input: "-abc", wantHint: HintFormat},
		{name: "one character name", input: "a", wantHint: HintScreenName},
		{name: "illegal characters", input: "foo!bar", wantHint: HintScreenName},
		{name: "two tokens", input: "123 456", wantHint: HintMultiple},
		{name: "url without path", input: "https://vk.com/", wantHint: HintURLPath},
		{name: "url with bad path", input: "https://vk.com/!!", wantHint: HintURLPath},
		{name: "too long", input: strings.Repeat("a", 65), wantHint: HintScreenName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, ok, err := ParseLine(tt.input, 7)
			if tt.skipped {
				assert.False(t, ok)
				assert.Nil(t, err)
				return
			}
			require.True(t, ok)

			if tt.wantHint != "" {
				require.NotNil(t, err)
				assert.Equal(t, tt.wantHint, err.Hint)
				assert.Equal(t, 7, err.Line)
				assert.Equal(t, tt.input, err.Raw)
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}

			require.Nil(t, err)
			assert.Equal(t, tt.wantKey, id.Key())
			assert.Equal(t, tt.wantKind, id.Kind)
			assert.Equal(t, 7, id.Line)
		})
	}
}

func TestParse_DeduplicatesAndCollectsErrors(t *testing.T) {
	t.Parallel()

	lines := []string{
		"# groups to import",
		"club1",
		"https://vk.com/club1",
		"-1",
		"",
		"apiclub",
		"APIClub",
		"bad line here",
		"2",
	}

	res := Parse(lines)

	require.Len(t, res.Identifiers, 3)
	assert.Equal(t, "id:1", res.Identifiers[0].Key())
	assert.Equal(t, 2, res.Identifiers[0].Line)
	assert.Equal(t, "name:apiclub", res.Identifiers[1].Key())
	assert.Equal(t, "id:2", res.Identifiers[2].Key())

	assert.Equal(t, 3, res.Duplicates)
	assert.Equal(t, 7, res.Lines)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 8, res.Errors[0].Line)
}

func TestParseReader(t *testing.T) {
	t.Parallel()

	res, err := ParseReader(strings.NewReader("10\n20\r\n10\n"))
	require.NoError(t, err)
	assert.Len(t, res.Identifiers, 2)
	assert.Equal(t, 1, res.Duplicates)
}
