package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	require.Equal(t, "a***@ixortalk.com", Mask("alice@ixortalk.com"))
	require.Equal(t, "b***", Mask("bobby"))
	require.Equal(t, "***", Mask("b"))
	require.Equal(t, "", Mask(""))
}
