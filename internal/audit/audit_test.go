package audit

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ClaimSync/internal/config"
)

func TestLogAudit(t *testing.T) {
	l := New(config.Audit{Folder: t.TempDir()})
	l.LogAudit("before start is dropped")
	require.NoError(t, l.Start())
	l.LogAudit("job a.xls: pending -> processing (attempt 1)")
	path := l.CurrentFile()
	require.NoError(t, l.Stop())
	l.LogAudit("after stop is dropped")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[AUDIT] job a.xls: pending -> processing (attempt 1)")
	require.NotContains(t, string(data), "dropped")
}

func TestRotateIfNeeded(t *testing.T) {
	l := New(config.Audit{Folder: t.TempDir(), MaxFileMB: 1})
	require.NoError(t, l.Start())
	defer l.Stop()

	first := l.CurrentFile()
	l.LogAudit(strings.Repeat("x", 1024*1024))
	require.NoError(t, l.RotateIfNeeded())
	require.NotEqual(t, first, l.CurrentFile())
}

func TestZipOldLogs(t *testing.T) {
	dir := t.TempDir()
	l := New(config.Audit{Folder: dir, RetentionDays: 7})
	require.NoError(t, l.Start())
	defer l.Stop()

	old := filepath.Join(dir, "audit_20240101_000000_1.log")
	require.NoError(t, os.WriteFile(old, []byte("old line\n"), 0o644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err := l.ZipOldLogs()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoFileExists(t, old)
	require.FileExists(t, l.CurrentFile())

	zips, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	require.NoError(t, err)
	require.Len(t, zips, 1)
	zr, err := zip.OpenReader(zips[0])
	require.NoError(t, err)
	defer zr.Close()
	require.Equal(t, "audit_20240101_000000_1.log", zr.File[0].Name)
}
