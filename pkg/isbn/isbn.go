// Package isbn validates and canonicalizes raw ISBN values before lookup.
//
// Input usually comes from spreadsheet columns, so a value may arrive as a
// string with hyphens, an integer, or a float that lost its formatting
// (9787121123456.0, 9.787121123456e+12). Normalize never fails loudly:
// anything it cannot turn into a 10 or 13 digit key is reported as invalid.
package isbn

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var keyPattern = regexp.MustCompile(`^(\d{10}|\d{13})$`)

// Key is a normalized ISBN: a 10 or 13 digit string.
type Key string

// String returns the key as a plain string.
func (k Key) String() string {
	return string(k)
}

// Valid reports whether k matches the canonical key pattern.
func (k Key) Valid() bool {
	return keyPattern.MatchString(string(k))
}

// IsISBN13 reports whether k is a 13 digit key.
func (k Key) IsISBN13() bool {
	return len(k) == 13 && k.Valid()
}

// Normalize converts a raw value into a Key.
// The second return value is false when raw cannot be normalized.
func Normalize(raw any) (Key, bool) {
	var s string

	switch v := raw.(type) {
	case nil:
		return "", false
	case Key:
		s = string(v)
	case string:
		return normalizeString(v)
	case []byte:
		return normalizeString(string(v))
	case json.Number:
		return normalizeString(v.String())
	case float64:
		return normalizeFloat(v)
	case float32:
		return normalizeFloat(float64(v))
	case int:
		return normalizeInt(int64(v))
	case int8:
		return normalizeInt(int64(v))
	case int16:
		return normalizeInt(int64(v))
	case int32:
		return normalizeInt(int64(v))
	case int64:
		return normalizeInt(v)
	case uint:
		s = strconv.FormatUint(uint64(v), 10)
	case uint8:
		s = strconv.FormatUint(uint64(v), 10)
	case uint16:
		s = strconv.FormatUint(uint64(v), 10)
	case uint32:
		s = strconv.FormatUint(uint64(v), 10)
	case uint64:
		s = strconv.FormatUint(v, 10)
	case fmt.Stringer:
		return normalizeString(v.String())
	default:
		return "", false
	}

	return validate(s)
}

// MustNormalize is like Normalize but panics on invalid input.
// It is intended for constants in tests and examples.
func MustNormalize(raw any) Key {
	k, ok := Normalize(raw)
	if !ok {
		panic(fmt.Sprintf("isbn: cannot normalize %v", raw))
	}
	return k
}

func normalizeString(s string) (Key, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	// Spreadsheet exports render long numbers as 9.787121123456E+12 or
	// 9787121123456.0. Text that lost digits (9.78712E+12) is rejected.
	if strings.ContainsAny(s, "eE.") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			key, ok := normalizeFloat(f)
			if ok && len(key) > mantissaDigits(s) {
				return "", false
			}
			return key, ok
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return validate(b.String())
}

// mantissaDigits counts the significant digits written before any exponent.
func mantissaDigits(s string) int {
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' || (n == 0 && r == '0') {
			continue
		}
		n++
	}
	return n
}

func normalizeFloat(f float64) (Key, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return "", false
	}
	return validate(strconv.FormatFloat(math.Trunc(f), 'f', 0, 64))
}

func normalizeInt(n int64) (Key, bool) {
	if n < 0 {
		return "", false
	}
	return validate(strconv.FormatInt(n, 10))
}

func validate(s string) (Key, bool) {
	if !keyPattern.MatchString(s) {
		return "", false
	}
	return Key(s), true
}

// ToISBN13 converts a 10 digit key to its 978-prefixed 13 digit form and
// recomputes the check digit. 13 digit keys are returned unchanged.
func ToISBN13(k Key) (Key, bool) {
	if !k.Valid() {
		return "", false
	}
	if len(k) == 13 {
		return k, true
	}

	body := "978" + string(k[:9])
	sum := 0
	for i, r := range body {
		d := int(r - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return Key(body + strconv.Itoa(check)), true
}
