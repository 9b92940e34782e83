// Package secret defines a byte-string wrapper that never reveals its
// value through the default textual representations Go reaches for
// (fmt.Stringer, %v, %+v, JSON marshaling).
package secret

import (
	"crypto/subtle"
	"encoding/json"
)

// Redacted is printed in place of a Secret's value by every default
// textual path.
const Redacted = "[REDACTED]"

// Secret wraps a byte string so that it cannot be printed, logged, or
// marshaled by accident. The only way to recover the original bytes is
// Reveal.
type Secret struct {
	value []byte
}

// New wraps b. The caller's slice is copied so that later mutation of
// b does not affect the Secret.
func New(b []byte) Secret {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Secret{value: cp}
}

// FromString wraps s.
func FromString(s string) Secret {
	return New([]byte(s))
}

// Reveal returns the wrapped bytes. Callers must not hold onto the
// result longer than necessary.
func (s Secret) Reveal() []byte {
	return s.value
}

// RevealString returns the wrapped bytes as a string.
func (s Secret) RevealString() string {
	return string(s.value)
}

// IsZero reports whether the Secret holds no bytes.
func (s Secret) IsZero() bool {
	return len(s.value) == 0
}

// Equal reports whether s and other wrap the same bytes, in constant
// time with respect to the byte content (lengths are compared in the
// clear, as is standard for constant-time comparisons).
func (s Secret) Equal(other Secret) bool {
	if len(s.value) != len(other.value) {
		return false
	}
	return subtle.ConstantTimeCompare(s.value, other.value) == 1
}

// String implements fmt.Stringer, always returning the redacted marker.
func (s Secret) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer so that %#v also redacts.
func (s Secret) GoString() string {
	return Redacted
}

// MarshalJSON redacts the value rather than serializing it, so that a
// Secret embedded in a struct never leaks into JSON output (debug
// dumps, accidental logging of a struct via json.Marshal, etc).
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}
