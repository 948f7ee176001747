// Package resource keeps named health checks for the external resources the
// service depends on and polls them on a heartbeat.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

// Check reports whether a resource is reachable.
type Check func(ctx context.Context) error

type Auditor interface {
	LogAudit(msg string)
}

const (
	defaultInterval = 30 * time.Second
	checkTimeout    = 5 * time.Second
)

type ResourceManager struct {
	resources         map[string]Check
	state             map[string]error
	mu                sync.RWMutex
	stopChan          chan struct{}
	stopOnce          sync.Once
	wg                sync.WaitGroup
	heartbeatInterval time.Duration
	audit             Auditor
	log               logger.Logger
}

func New(audit Auditor, log logger.Logger) *ResourceManager {
	return &ResourceManager{
		resources:         make(map[string]Check),
		state:             make(map[string]error),
		stopChan:          make(chan struct{}),
		heartbeatInterval: defaultInterval,
		audit:             audit,
		log:               log,
	}
}

// Configure reads heartbeat_interval ("45s" or seconds) from a services.yaml block.
func (rm *ResourceManager) Configure(cfg map[string]interface{}) error {
	val, ok := cfg["heartbeat_interval"]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("heartbeat_interval: %w", err)
		}
		rm.heartbeatInterval = d
	case int:
		rm.heartbeatInterval = time.Duration(v) * time.Second
	case float64:
		rm.heartbeatInterval = time.Duration(v * float64(time.Second))
	default:
		return fmt.Errorf("heartbeat_interval: unsupported value %v", val)
	}
	if rm.heartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	return nil
}

func (rm *ResourceManager) Name() string { return "resourcemanager" }

func (rm *ResourceManager) Start() error {
	rm.audit.LogAudit(fmt.Sprintf("ResourceManager started, watching %v every %s", rm.ListResources(), rm.heartbeatInterval))
	rm.wg.Add(1)
	go rm.heartbeatLoop()
	return nil
}

func (rm *ResourceManager) Stop() error {
	rm.stopOnce.Do(func() { close(rm.stopChan) })
	rm.wg.Wait()
	return nil
}

func (rm *ResourceManager) heartbeatLoop() {
	defer rm.wg.Done()
	ticker := time.NewTicker(rm.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopChan:
			return
		case <-ticker.C:
			_ = rm.Ping(context.Background())
		}
	}
}

// Ping runs every check and returns the joined failures. A resource going
// down or coming back is written to the audit log once.
func (rm *ResourceManager) Ping(ctx context.Context) error {
	rm.mu.RLock()
	checks := make(map[string]Check, len(rm.resources))
	for k, c := range rm.resources {
		checks[k] = c
	}
	rm.mu.RUnlock()

	var errs []error
	for _, name := range sortedKeys(checks) {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checks[name](cctx)
		cancel()
		rm.record(name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (rm *ResourceManager) record(name string, err error) {
	rm.mu.Lock()
	prev, seen := rm.state[name]
	rm.state[name] = err
	rm.mu.Unlock()

	switch {
	case err != nil && (!seen || prev == nil):
		rm.log.Warnf("resource %s unavailable: %v", name, err)
		rm.audit.LogAudit(fmt.Sprintf("resource %s unavailable: %v", name, err))
	case err == nil && seen && prev != nil:
		rm.log.Infof("resource %s recovered", name)
		rm.audit.LogAudit(fmt.Sprintf("resource %s recovered", name))
	}
}

func (rm *ResourceManager) AddResource(key string, check Check) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.resources[key] = check
}

func (rm *ResourceManager) RemoveResource(key string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.resources, key)
	delete(rm.state, key)
}

func (rm *ResourceManager) ListResources() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return sortedKeys(rm.resources)
}

func sortedKeys(m map[string]Check) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
