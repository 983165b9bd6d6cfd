package session

import "strings"

// CredentialDelimiter separates the session id from the secret.
// Neither ULIDs nor unpadded base64url contain it.
const CredentialDelimiter = "."

// maxCredentialLen bounds the input before any work is done on it.
const maxCredentialLen = 512

// JoinCredential builds the composite credential "<sessionID>.<secret>".
func JoinCredential(sessionID, secret string) string {
	return sessionID + CredentialDelimiter + secret
}

// SplitCredential splits a composite credential into session id and secret.
// Anything other than exactly two non-empty parts is ErrInvalidCredentialFormat.
func SplitCredential(composite string) (sessionID, secret string, err error) {
	composite = strings.TrimSpace(composite)
	if composite == "" || len(composite) > maxCredentialLen {
		return "", "", ErrInvalidCredentialFormat
	}
	parts := strings.Split(composite, CredentialDelimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidCredentialFormat
	}
	return parts[0], parts[1], nil
}
