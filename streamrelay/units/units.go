// Package units holds binary size constants and size parsing for query
// parameters and flags.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	KB int64 = 1024
	MB       = 1024 * KB
	GB       = 1024 * MB
)

var ErrInvalidSize = errors.New("units: invalid size")

// ParseSize accepts a plain byte count ("3072") or a humanized size
// ("3KiB", "1.5 MB"). Negative, overflowing and fractional byte counts
// are rejected.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSize)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: negative size %d", ErrInvalidSize, n)
		}
		return n, nil
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative size %q", ErrInvalidSize, s)
	}

	num, unit := splitNumber(s)
	r, ok := new(big.Rat).SetString(strings.ReplaceAll(num, ",", ""))
	if num == "" || !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	mult, err := humanize.ParseBytes("1" + unit)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).SetUint64(mult)))
	if !r.IsInt() {
		return 0, fmt.Errorf("%w: %q is not a whole number of bytes", ErrInvalidSize, s)
	}
	if !r.Num().IsInt64() {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
	}
	return r.Num().Int64(), nil
}

// splitNumber splits s into its leading decimal number and the unit after it.
func splitNumber(s string) (num, unit string) {
	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != ','
	})
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// Format renders n with binary prefixes.
func Format(n int64) string {
	if n < 0 {
		return strconv.FormatInt(n, 10) + " B"
	}
	return humanize.IBytes(uint64(n))
}
