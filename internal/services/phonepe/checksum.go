package phonepe

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Checksum computes the X-VERIFY value for a string that already has the
// request path appended (empty path for callbacks).
func (c *Client) Checksum(payload string) string {
	return checksum(payload, c.saltKey, c.saltIndex)
}

// ValidChecksum compares a received X-VERIFY header in constant time.
func (c *Client) ValidChecksum(payload, xVerify string) bool {
	if c.saltKey == "" || xVerify == "" {
		return false
	}
	want := c.Checksum(payload)
	return subtle.ConstantTimeCompare([]byte(want), []byte(xVerify)) == 1
}

func checksum(payload, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(payload + saltKey))
	return hex.EncodeToString(sum[:]) + "###" + saltIndex
}
