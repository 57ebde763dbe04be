package purelink

import (
	"crypto/sha512"
	"encoding/base64"
)

// Credential is the password presented to the device broker.
type Credential string

// DeriveCredential returns the standard base64 encoding of the SHA-512 digest
// of password. The device firmware expects exactly this unsalted form, so the
// output is always 88 characters.
func DeriveCredential(password string) Credential {
	sum := sha512.Sum512([]byte(password))
	return Credential(base64.StdEncoding.EncodeToString(sum[:]))
}

// String redacts the credential so it never lands in logs.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}
