package utils

import (
	"crypto/rand"
	"math/big"
)

// InviteCodeLength is the number of characters in a waiting-room invite code.
const InviteCodeLength = 6

// Ambiguous glyphs (0/O, 1/I) are left out; codes are read aloud.
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewInviteCode returns a random uppercase alphanumeric invite code.
func NewInviteCode() (string, error) {
	out := make([]byte, InviteCodeLength)
	max := big.NewInt(int64(len(inviteAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = inviteAlphabet[n.Int64()]
	}
	return string(out), nil
}

// ValidInviteCode reports whether s has the shape of an invite code. It
// does not check that any room uses it.
func ValidInviteCode(s string) bool {
	if len(s) != InviteCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
