package campaign

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// ToWei converts a human-entered ether amount to wei.
func ToWei(ether string) (*big.Int, error) {
	ether = strings.TrimSpace(ether)
	if ether == "" {
		return nil, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(ether)
	if err != nil {
		return nil, fmt.Errorf("invalid ether amount %q", ether)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("ether amount %q must not be negative", ether)
	}
	if d.Exponent() < -etherDecimals && !d.Equal(d.Truncate(etherDecimals)) {
		return nil, fmt.Errorf("ether amount %q has more than %d decimals", ether, etherDecimals)
	}
	return d.Shift(etherDecimals).BigInt(), nil
}

// FromWei renders wei as a decimal ether string without trailing zeros.
func FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}
