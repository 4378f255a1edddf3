package codec

import (
	"fmt"
	"math"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// CoordinateScale is the fixed-point scale for latitude/longitude.
const CoordinateScale = 1_000_000

// ParseUint parses a string of ASCII digits. Empty input, any other byte
// (including a sign) and values above MaxUint64 are rejected.
func ParseUint(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: empty string", domain.ErrInvalidFormat)
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: byte %q at offset %d", domain.ErrInvalidFormat, c, i)
		}
		d := uint64(c - '0')
		if n > (math.MaxUint64-d)/10 {
			return 0, fmt.Errorf("%w: %q exceeds uint64", domain.ErrNumericOverflow, s)
		}
		n = n*10 + d
	}
	return n, nil
}

// ParseInt parses an optionally '-'-prefixed string of ASCII digits.
// A lone "-" fails, and overflow in either direction fails instead of
// wrapping.
func ParseInt(s string) (int64, error) {
	neg := false
	digits := s
	if len(s) > 0 && s[0] == '-' {
		neg = true
		digits = s[1:]
		if len(digits) == 0 {
			return 0, fmt.Errorf("%w: sign without digits", domain.ErrInvalidFormat)
		}
	}

	u, err := ParseUint(digits)
	if err != nil {
		return 0, err
	}
	return signed(u, neg, s)
}

// signed applies a sign to a magnitude, checking the int64 range.
func signed(u uint64, neg bool, src string) (int64, error) {
	if neg {
		if u > uint64(math.MaxInt64)+1 {
			return 0, fmt.Errorf("%w: %q below int64 minimum", domain.ErrNumericOverflow, src)
		}
		if u == uint64(math.MaxInt64)+1 {
			return math.MinInt64, nil
		}
		return -int64(u), nil
	}
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q above int64 maximum", domain.ErrNumericOverflow, src)
	}
	return int64(u), nil
}
