package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// FormatCoordinate renders a micro-degree value as a decimal with exactly
// six fractional digits: 40712800 -> "40.712800", -74006000 -> "-74.006000".
func FormatCoordinate(value int64) string {
	var mag uint64
	neg := value < 0
	if neg {
		mag = uint64(-(value + 1)) + 1 // safe for MinInt64
	} else {
		mag = uint64(value)
	}

	whole := mag / CoordinateScale
	frac := mag % CoordinateScale

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatUint(whole, 10))
	b.WriteByte('.')
	fs := strconv.FormatUint(frac, 10)
	for i := len(fs); i < 6; i++ {
		b.WriteByte('0')
	}
	b.WriteString(fs)
	return b.String()
}

// ParseCoordinate is the inverse of FormatCoordinate. It accepts
// "[-]whole[.frac]" with at most six fractional digits; a shorter fraction is
// right-padded, so "40.7128" is 40712800.
func ParseCoordinate(s string) (int64, error) {
	neg := false
	body := s
	if len(body) > 0 && body[0] == '-' {
		neg = true
		body = body[1:]
	}

	wholeStr, fracStr, hasDot := strings.Cut(body, ".")
	if hasDot && len(fracStr) == 0 {
		return 0, fmt.Errorf("%w: %q has empty fraction", domain.ErrInvalidFormat, s)
	}
	if len(fracStr) > 6 {
		return 0, fmt.Errorf("%w: %q has more than 6 fractional digits", domain.ErrInvalidFormat, s)
	}

	whole, err := ParseUint(wholeStr)
	if err != nil {
		return 0, err
	}
	var frac uint64
	if hasDot {
		frac, err = ParseUint(fracStr)
		if err != nil {
			return 0, err
		}
		for i := len(fracStr); i < 6; i++ {
			frac *= 10
		}
	}

	if whole > (math.MaxUint64-frac)/CoordinateScale {
		return 0, fmt.Errorf("%w: %q", domain.ErrNumericOverflow, s)
	}
	return signed(whole*CoordinateScale+frac, neg, s)
}
