package ldap

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// AD stores the first three GUID fields little-endian; swapping them yields RFC 4122 order.
// The permutation is its own inverse.
func swapGUIDEndianness(b []byte) []byte {
	out := make([]byte, GUIDBytesLength)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}

// DecodeGUID converts a binary objectGUID to its hyphenated text form.
func DecodeGUID(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	u, err := uuid.FromBytes(swapGUIDEndianness(guidBytes))
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// GUIDToADBytes converts a GUID string (hyphenated, compact or braced) to AD byte order.
func GUIDToADBytes(guidString string) ([]byte, error) {
	u, err := uuid.Parse(strings.TrimSpace(guidString))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID format: %s", guidString)
	}
	return swapGUIDEndianness(u[:]), nil
}

// IsValidGUID reports whether s parses as a GUID.
func IsValidGUID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// GUIDToSearchFilter creates an objectGUID equality filter with every byte escaped.
func GUIDToSearchFilter(guidString string) (string, error) {
	guidBytes, err := GUIDToADBytes(guidString)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("(objectGUID=")
	for _, c := range guidBytes {
		fmt.Fprintf(&b, "\\%02x", c)
	}
	b.WriteString(")")
	return b.String(), nil
}
