package migrations_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ClaimSync/sql/migrations"
)

func TestEmbeddedSQL(t *testing.T) {
	dirs, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	var embedFiles []string
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		files, err := migrations.FS.ReadDir(dir.Name())
		require.NoError(t, err)
		for _, file := range files {
			if !file.IsDir() {
				embedFiles = append(embedFiles, dir.Name()+"/"+file.Name())
			}
		}
	}

	var osFiles []string
	err = filepath.Walk(".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch path {
		case "embed.go", "embed_test.go":
			return nil
		}
		if !info.IsDir() {
			osFiles = append(osFiles, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, embedFiles, osFiles)
}
