package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumAndFile(t *testing.T) {
	data := []byte("TRAN_ID,HN\nT1,H1\n")
	path := filepath.Join(t.TempDir(), "a.csv")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fromFile, err := File(path)
	require.NoError(t, err)
	require.Equal(t, Sum(data), fromFile)
	require.Len(t, fromFile, 64)

	require.True(t, Match(data, fromFile))
	require.False(t, Match([]byte("other"), fromFile))
	require.False(t, Match(data, ""))

	_, err = File(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}
