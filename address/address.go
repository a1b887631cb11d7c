// Package address validates the account addresses carried by authenticated
// sessions.
//
// An Address can only be obtained through Validate or Parse, so a value of
// this type is always a syntactically valid Ethereum account address in the
// exact textual form the caller supplied. Validation is a predicate plus type
// narrowing: case and prefix are never rewritten. Checksummed ICAP addresses
// are accepted too; Common decodes them.
package address

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// hexLength is the number of hex digits in a 20-byte account address.
const hexLength = 2 * common.AddressLength

// ErrInvalidAddress is returned for absent, empty or malformed candidates.
var ErrInvalidAddress = errors.New("invalid account address")

// Address is a validated account address.
type Address string

// String returns the address exactly as it was validated.
func (a Address) String() string {
	return string(a)
}

// Common converts the address to the go-ethereum byte representation.
func (a Address) Common() common.Address {
	if icapPattern.MatchString(string(a)) {
		v, _ := new(big.Int).SetString(string(a)[4:], 36)
		return common.BigToAddress(v)
	}
	return common.HexToAddress(string(a))
}

// Validate checks a possibly absent candidate. A nil candidate always fails.
func Validate(candidate *string) (Address, error) {
	if candidate == nil {
		return "", ErrInvalidAddress
	}
	return Parse(*candidate)
}

// Parse checks a candidate string against the address grammar:
// an optional lowercase "0x" prefix followed by exactly 40 hex digits, or an
// ICAP direct address ("XE", two check digits, 30 or 31 base36 characters).
// Hex digits written in mixed case must carry a valid EIP-55 checksum.
func Parse(candidate string) (Address, error) {
	if icapPattern.MatchString(candidate) {
		if !validICAP(candidate) {
			return "", ErrInvalidAddress
		}
		return Address(candidate), nil
	}
	digits := strings.TrimPrefix(candidate, "0x")
	if len(digits) != hexLength {
		return "", ErrInvalidAddress
	}
	var lower, upper bool
	for i := 0; i < len(digits); i++ {
		switch c := digits[i]; {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
			lower = true
		case c >= 'A' && c <= 'F':
			upper = true
		default:
			return "", ErrInvalidAddress
		}
	}
	if lower && upper && !hasValidChecksum(digits) {
		return "", ErrInvalidAddress
	}
	return Address(candidate), nil
}

// IsValid reports whether s would be accepted by Parse.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func hasValidChecksum(digits string) bool {
	checksummed := common.HexToAddress(digits).Hex()
	return checksummed[2:] == digits
}

var icapPattern = regexp.MustCompile(`^XE[0-9]{2}[0-9A-Za-z]{30,31}$`)

// validICAP verifies the IBAN mod-97 check digits of an ICAP address and
// that the decoded value fits in 20 bytes.
func validICAP(candidate string) bool {
	upper := strings.ToUpper(candidate)
	var expanded strings.Builder
	for _, c := range upper[4:] + upper[:2] + "00" {
		v, err := strconv.ParseInt(string(c), 36, 64)
		if err != nil {
			return false
		}
		expanded.WriteString(strconv.FormatInt(v, 10))
	}
	n, ok := new(big.Int).SetString(expanded.String(), 10)
	if !ok {
		return false
	}
	sum := 98 - new(big.Int).Mod(n, big.NewInt(97)).Int64()
	if fmt.Sprintf("%02d", sum) != upper[2:4] {
		return false
	}
	v, ok := new(big.Int).SetString(candidate[4:], 36)
	return ok && v.BitLen() <= 8*common.AddressLength
}
