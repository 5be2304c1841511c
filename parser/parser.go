// Package parser extracts independent sub-requests from raw input
// text. The recognized syntax is a repeated marker of the form "call<N>:"
// followed by free text; each call's text runs until the next marker or the
// end of input. Parsing never fails: malformed or absent syntax degrades to
// "not concurrent", never to a partial call list.
package parser

import (
	"regexp"
	"strings"

	"github.com/hupe1980/callmesh/core"
)

// markerRe matches a call marker at the start of the input or after a
// separator (comma, semicolon or whitespace). A single linear FindAll scan
// keeps parsing O(n) even for pathological inputs; the first marker boundary
// encountered is authoritative, so the literal substring "callN:" inside a
// call's running text (not preceded by a separator) stays part of that text.
var markerRe = regexp.MustCompile(`(?:^|[,;\s])\s*(call\d+)\s*:`)

// Result is the outcome of parsing one raw input.
type Result struct {
	// HasConcurrentCalls reports whether at least one call marker was found.
	// When false the caller must fall back to single-call processing.
	HasConcurrentCalls bool `json:"has_concurrent_calls"`
	// Calls lists the extracted calls in marker order.
	Calls []core.Call `json:"calls"`
}

// Parse extracts the call list from text. It is a pure function with no
// side effects and is safe to call on arbitrarily large input.
func Parse(text string) Result {
	matches := markerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Result{}
	}

	calls := make([]core.Call, 0, len(matches))
	for i, m := range matches {
		// m[2]:m[3] is the captured marker id, m[1] the end of the full
		// match (past the colon).
		id := text[m[2]:m[3]]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		prompt := strings.TrimSpace(text[m[1]:end])
		if i+1 < len(matches) {
			// The separator that introduced the next marker is not part
			// of this call's text. The last call has no such separator,
			// so its trailing punctuation stays.
			prompt = strings.TrimRight(prompt, ",; \t\n")
		}
		calls = append(calls, core.Call{ID: id, Prompt: prompt})
	}

	return Result{HasConcurrentCalls: true, Calls: calls}
}
