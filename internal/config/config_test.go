package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s := Load(New())

	require.Equal(t, BatchSize, s.Importer.BatchSize)
	require.Equal(t, 30*time.Minute, s.Importer.FileTimeout)
	require.Equal(t, DefaultThreshold, s.Reconcile.Threshold)
	require.Equal(t, DefaultTimeZone, s.Schedule.TimeZone)
	require.Equal(t, 50*time.Millisecond, s.Reconcile.RetryDelay)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("CLAIMSYNC_IMPORTER_BATCH_SIZE", "250")
	t.Setenv("CLAIMSYNC_RECONCILE_THRESHOLD", "0.50")

	s := Load(New())
	require.Equal(t, "db.internal", s.Database.Host)
	require.Equal(t, 6543, s.Database.Port)
	require.Equal(t, 250, s.Importer.BatchSize)
	require.Equal(t, "0.50", s.Reconcile.Threshold)
	require.Equal(t, "user=postgres password= host=db.internal port=6543 dbname=claimsync sslmode=disable", s.Database.DSN())
}
