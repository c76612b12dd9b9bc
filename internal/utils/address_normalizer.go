package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsEvmAddress check whether address is a 20-byte hex address (with or without 0x)
func IsEvmAddress(address string) bool {
	if address == "" {
		return false
	}
	return common.IsHexAddress(address)
}

// NormalizeAddress lower-cases an EVM address and adds the 0x prefix if missing.
// Anything that is not an EVM address is returned trimmed but otherwise unchanged.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if !IsEvmAddress(address) {
		return address
	}
	lower := strings.ToLower(address)
	if strings.HasPrefix(lower, "0x") {
		return lower
	}
	return "0x" + lower
}

// NormalizeTxHash lower-cases a transaction hash and adds the 0x prefix if missing
func NormalizeTxHash(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" || strings.HasPrefix(hash, "0x") {
		return hash
	}
	return "0x" + hash
}

// AddressesEqual compares two EVM addresses case-insensitively
func AddressesEqual(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
