package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(16)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(16)
	require.NoError(t, err)
	require.Len(t, a, 22)
	require.NotEqual(t, a, b)

	s, err := NewState()
	require.NoError(t, err)
	require.Len(t, s, 32)
}
