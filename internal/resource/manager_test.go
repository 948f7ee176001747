package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/stretchr/testify/require"
)

type auditLog struct {
	mu    sync.Mutex
	lines []string
}

func (a *auditLog) LogAudit(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, msg)
}

func (a *auditLog) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lines)
}

func TestPingRecordsTransitionsOnce(t *testing.T) {
	audit := &auditLog{}
	rm := New(audit, logger.NOP)

	var dbErr error
	rm.AddResource("postgres", func(context.Context) error { return dbErr })
	rm.AddResource("his", func(context.Context) error { return nil })
	require.Equal(t, []string{"his", "postgres"}, rm.ListResources())

	require.NoError(t, rm.Ping(context.Background()))
	require.Empty(t, audit.lines)

	dbErr = errors.New("connection refused")
	err := rm.Ping(context.Background())
	require.ErrorContains(t, err, "postgres: connection refused")
	require.Error(t, rm.Ping(context.Background()))
	require.Equal(t, []string{"resource postgres unavailable: connection refused"}, audit.lines)

	dbErr = nil
	require.NoError(t, rm.Ping(context.Background()))
	require.Equal(t, "resource postgres recovered", audit.lines[1])

	rm.RemoveResource("postgres")
	require.Equal(t, []string{"his"}, rm.ListResources())
}

func TestConfigure(t *testing.T) {
	rm := New(&auditLog{}, logger.NOP)
	require.NoError(t, rm.Configure(nil))
	require.Equal(t, defaultInterval, rm.heartbeatInterval)

	require.NoError(t, rm.Configure(map[string]interface{}{"heartbeat_interval": "45s"}))
	require.Equal(t, 45*time.Second, rm.heartbeatInterval)

	require.NoError(t, rm.Configure(map[string]interface{}{"heartbeat_interval": 10}))
	require.Equal(t, 10*time.Second, rm.heartbeatInterval)

	require.Error(t, rm.Configure(map[string]interface{}{"heartbeat_interval": "soon"}))
	require.Error(t, rm.Configure(map[string]interface{}{"heartbeat_interval": "-1s"}))
}

func TestHeartbeat(t *testing.T) {
	audit := &auditLog{}
	rm := New(audit, logger.NOP)
	rm.heartbeatInterval = 10 * time.Millisecond
	rm.AddResource("postgres", func(context.Context) error { return errors.New("down") })

	require.NoError(t, rm.Start())
	require.Eventually(t, func() bool { return audit.count() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, rm.Stop())
	require.NoError(t, rm.Stop())
}
