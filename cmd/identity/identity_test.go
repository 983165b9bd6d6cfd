package identity

import (
	"testing"

	"fms/cmd/security/password"

	"github.com/stretchr/testify/require"
)

func testHasher(t *testing.T) *PasswordHasher {
	t.Helper()

	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.Policy.MinLength = 8

	h, err := NewPasswordHasher(cfg)
	require.NoError(t, err)
	return h
}
