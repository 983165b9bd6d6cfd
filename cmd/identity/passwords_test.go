package identity

import (
	"testing"

	"fms/cmd/security/password"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_Argon2id(t *testing.T) {
	h := testHasher(t)

	enc, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	require.True(t, password.IsEncodedHash(enc))

	ok, err := h.Verify(enc, "correct horse battery")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify(enc, "wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPasswordHasher_LegacyBcrypt(t *testing.T) {
	h := testHasher(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret-1"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := h.Verify(string(legacy), "legacy-secret-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify(string(legacy), "legacy-secret-2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPasswordHasher_UnknownFormat(t *testing.T) {
	h := testHasher(t)

	for _, enc := range []string{"", "plaintext", "$1$md5crypt$abc", "$2a$broken"} {
		ok, err := h.Verify(enc, "x")
		require.ErrorIs(t, err, password.ErrInvalidHash, enc)
		require.False(t, ok)
	}
}

func TestPasswordHasher_HashAppliesPolicy(t *testing.T) {
	h := testHasher(t)

	_, err := h.Hash("short")
	require.ErrorIs(t, err, password.ErrPasswordTooShort)
}
