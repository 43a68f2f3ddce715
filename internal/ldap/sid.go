package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

// DecodeSID converts a binary objectSid to its S-1-5-21-... form.
func DecodeSID(binarySID []byte) (string, error) {
	// revision, sub-authority count, 6-byte authority, then 4 bytes per sub-authority
	if len(binarySID) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}
	if want := 8 + 4*int(binarySID[1]); len(binarySID) != want {
		return "", fmt.Errorf("binary SID length %d does not match %d sub-authorities", len(binarySID), binarySID[1])
	}

	return objectsid.Decode(binarySID).String(), nil
}

// ValidateSIDString validates that a string is a properly formatted SID.
func ValidateSIDString(sidString string) error {
	if sidString == "" {
		return fmt.Errorf("SID string cannot be empty")
	}

	if !sidRegex.MatchString(sidString) {
		return fmt.Errorf("invalid SID format: %s", sidString)
	}

	return nil
}

// RelativeID returns the trailing sub-authority of a SID string, or "" when there is none.
func RelativeID(sid string) string {
	i := strings.LastIndexByte(sid, '-')
	if i < 0 || i == len(sid)-1 {
		return ""
	}
	return sid[i+1:]
}
