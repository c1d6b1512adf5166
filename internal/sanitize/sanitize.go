// Package sanitize strips HTML/script content from non-encrypted chat text
// before it is persisted. The frame fanned out to clients is the original
// one and does not pass through this package.
//
// Uses bluemonday.StrictPolicy(), applied once per chat message.
package sanitize

import "github.com/microcosm-cc/bluemonday"

// policy strips all HTML; it is safe for concurrent use and shared across
// every session (bluemonday.Policy is documented goroutine-safe).
var policy = bluemonday.StrictPolicy()

// Text sanitizes plain chat text. Call only when encrypted is false;
// ciphertext must never be passed here since stripping "HTML" from base64
// or binary ciphertext would corrupt it.
func Text(s string) string {
	return policy.Sanitize(s)
}
