package types

import (
	"fmt"
	"math/big"
	"strings"
)

// NewAmount builds an Amount from a raw integer value, deriving the
// human-readable form from the asset's decimals.
func NewAmount(asset Asset, raw *big.Int) Amount {
	return Amount{
		Asset:     asset,
		Raw:       raw.String(),
		Formatted: FormatUnits(raw, asset.Decimals),
	}
}

// ParseAmount builds an Amount from a raw decimal string, validating that it
// is an exact integer.
func ParseAmount(asset Asset, raw string) (Amount, error) {
	v, err := ParseRaw(raw)
	if err != nil {
		return Amount{}, err
	}
	return NewAmount(asset, v), nil
}

// RawInt returns the raw value as a big integer.
func (a Amount) RawInt() (*big.Int, error) {
	return ParseRaw(a.Raw)
}

// IsZero reports whether the raw value is zero.
func (a Amount) IsZero() bool {
	v, err := ParseRaw(a.Raw)
	if err != nil {
		return false
	}
	return v.Sign() == 0
}

// ParseRaw parses a base-10 integer string. Floats are rejected: chain units
// must never pass through floating point.
func ParseRaw(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("empty raw amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid raw amount %q", raw)
	}
	return v, nil
}

// FormatUnits renders a raw integer as a decimal string shifted by the given
// number of decimals, using only integer arithmetic. Trailing fractional
// zeros are trimmed; whole values render without a fractional part.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if decimals == 0 {
		return raw.String()
	}

	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		fracStr := frac.String()
		if pad := int(decimals) - len(fracStr); pad > 0 {
			fracStr = strings.Repeat("0", pad) + fracStr
		}
		fracStr = strings.TrimRight(fracStr, "0")
		if fracStr != "" {
			out += "." + fracStr
		}
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
