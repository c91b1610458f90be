package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point scale of MIND and PMIND balances.
const TokenDecimals = 18

const (
	StakeUnit  = " MIND"
	RewardUnit = " PMIND"
)

// FormatEther renders a raw 18-decimal balance the way ethers' formatEther does.
// Trailing fractional zeros are dropped but at least one digit is kept:
//   - 5000000000000000000 -> "5.0"
//   - 1500000000000000000 -> "1.5"
//   - 1 -> "0.000000000000000001"
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(wei, -TokenDecimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// FormatStake formats a stake balance with the MIND suffix.
func FormatStake(wei *big.Int) string {
	return FormatEther(wei) + StakeUnit
}

// FormatRewards formats a reward-token balance with the PMIND suffix.
func FormatRewards(wei *big.Int) string {
	return FormatEther(wei) + RewardUnit
}

// DecodeHexQuantity converts a hex string such as "0x1a" into its base-10
// representation ("26"). The 0x prefix is optional.
func DecodeHexQuantity(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if trimmed == "" {
		return "", fmt.Errorf("empty hex quantity %q", s)
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return "", fmt.Errorf("invalid hex quantity %q", s)
	}
	return v.String(), nil
}
