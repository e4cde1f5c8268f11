package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// IsNumeric reports whether s is a non-negative base-10 integer
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseBigInt parses a non-negative base-10 integer such as a price in wei or a token id
func ParseBigInt(s string) (*big.Int, error) {
	if !IsNumeric(s) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParseEther converts a decimal ether amount (e.g. "0.5") into wei without floating point
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !IsNumeric(whole) || (hasDot && !IsNumeric(frac)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(frac) > WEI_DECIMALS {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, WEI_DECIMALS)
	}

	frac += strings.Repeat("0", WEI_DECIMALS-len(frac))
	wei, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return wei, nil
}

// FormatEther renders a wei amount as a decimal ether string with trailing zeros trimmed
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	sign := ""
	abs := new(big.Int).Set(wei)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}

	digits := abs.String()
	if len(digits) <= WEI_DECIMALS {
		digits = strings.Repeat("0", WEI_DECIMALS-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-WEI_DECIMALS]
	frac := strings.TrimRight(digits[len(digits)-WEI_DECIMALS:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}
