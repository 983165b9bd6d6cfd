package app

import (
	"errors"
	"fmt"

	"fms/cmd/security/token"
)

// minTokenHMACKeyBytes is the shortest accepted FMS_TOKEN_HMAC_KEY.
const minTokenHMACKeyBytes = 32

// ValidateSecurityConfig enforces the token pepper policy at startup.
// With FMS_REQUIRE_TOKEN_HMAC the key must be present and long enough, and the
// prehasher handed to the session manager must actually be in HMAC mode.
func ValidateSecurityConfig(cfg Config, pre token.Prehasher) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(minTokenHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: FMS_REQUIRE_TOKEN_HMAC=true but FMS_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: FMS_TOKEN_HMAC_KEY is too short (min %d bytes)", minTokenHMACKeyBytes)
		default:
			return err
		}
	}

	if !pre.Peppered() {
		return errors.New("security policy: FMS_REQUIRE_TOKEN_HMAC=true but the refresh prehasher is not in HMAC mode")
	}
	return nil
}
