// Package jsonfield looks up top-level fields in flat JSON objects such as
// push payloads and API responses, bounding the result to a fixed width.
package jsonfield

import (
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// String returns the value stored under key in the JSON object data.
// The result is cut to at most width-1 bytes (width counts a terminator,
// like the fixed-size fields it fills) without splitting a UTF-8 sequence.
// Missing keys and null values report false. Partial input, such as a
// truncated push line, is searched as far as it parses.
func String(data []byte, key string, width int) (string, bool) {
	res := gjson.GetBytes(data, gjson.Escape(key))
	if !res.Exists() || res.Type == gjson.Null {
		return "", false
	}

	return clip(res.String(), width-1), true
}

// Has reports whether key is present in the JSON object data with any
// non-null value.
func Has(data []byte, key string) bool {
	res := gjson.GetBytes(data, gjson.Escape(key))
	return res.Exists() && res.Type != gjson.Null
}

func clip(s string, n int) string {
	if n < 0 {
		n = 0
	}

	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
