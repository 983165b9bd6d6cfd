package identity

import (
	"testing"

	"fms/cmd/identity/ids"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
}

func TestNormalizeScopes(t *testing.T) {
	got := NormalizeScopes([]string{" seller", "admin", "", "admin", "has space", "seller"})
	require.Equal(t, []string{"admin", "seller"}, got)

	require.Empty(t, NormalizeScopes(nil))
}

func TestIDs(t *testing.T) {
	id := ids.NewPrincipalID()
	require.True(t, ids.IsPrincipalID(id))
	require.False(t, ids.IsPrincipalID("not-a-uuid"))

	sid, err := ids.NewULID(fixedNow)
	require.NoError(t, err)
	require.Len(t, sid, 26)
	require.True(t, ids.IsULID(sid))
	require.NotContains(t, sid, ".")
	require.False(t, ids.IsULID("short"))
}
