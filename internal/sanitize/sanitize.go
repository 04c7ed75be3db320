// Package sanitize cleans backend-provided message content before it is
// rendered. Assistant replies may carry HTML formatting; bluemonday strips
// anything that could execute (script tags, event handlers, javascript:
// URLs) while keeping basic formatting and tables.
package sanitize

import (
	"encoding/json"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once

	strict     *bluemonday.Policy
	strictOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()

		// Replies render comparison tables of mortgage tracks.
		policy.AllowElements("table", "thead", "tbody", "tfoot", "tr", "td", "th", "caption")
		policy.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
		policy.AllowAttrs("dir").Globally()

		policy.RequireNoFollowOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
	})
	return policy
}

func getStrict() *bluemonday.Policy {
	strictOnce.Do(func() {
		strict = bluemonday.StrictPolicy()
	})
	return strict
}

// HTML sanitizes reply HTML. The output is safe to write unescaped.
func HTML(input string) string {
	if input == "" {
		return ""
	}
	return getPolicy().Sanitize(input)
}

// Plain removes all markup from input and returns the bare text. The
// result is not escaped.
func Plain(input string) string {
	if input == "" {
		return ""
	}
	return html.UnescapeString(getStrict().Sanitize(input))
}

// textKeys are the members of a message content object that carry the
// displayable text, in order of preference.
var textKeys = []string{"text", "message", "response", "content"}

// ContentText extracts the displayable text of a message content payload.
// A JSON string is returned as is; an object yields its first text member,
// searched recursively; an array joins the text of its elements. Anything
// else yields "".
func ContentText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return textOf(v)
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range textKeys {
			if child, ok := t[key]; ok {
				if s := textOf(child); s != "" {
					return s
				}
			}
		}
	case []any:
		var parts []string
		for _, child := range t {
			if s := textOf(child); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
