package primitives

import (
	"errors"
	"testing"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	valid := []string{"bd", "my-app", "com.example.app", "a"}
	for _, name := range valid {
		require.NoError(t, ValidateName(name), "expected %q to be valid", name)
	}

	invalid := []string{
		"", "   ", "con", "CON", "CON.txt", "COM1", "lpt9.log",
		" leading", "trailing ", ".hidden", "trailing.",
		".", "..", "a/b", "a\\b", "bad:name", "bad*name", "bad?name",
	}
	for _, name := range invalid {
		err := ValidateName(name)
		require.Error(t, err, "expected %q to be invalid", name)
		require.True(t, errors.Is(err, cacheerr.ErrInvalidArgument))
	}
}

func TestSafePathCombine(t *testing.T) {
	base := t.TempDir()

	p, err := SafePathCombine(base, "sub/dir")
	require.NoError(t, err)
	require.Contains(t, p, base)

	_, err = SafePathCombine(base, "../escape")
	require.Error(t, err)
	require.True(t, errors.Is(err, cacheerr.ErrInvalidArgument))

	_, err = SafePathCombine(base, "sub/../../escape")
	require.Error(t, err)
}
