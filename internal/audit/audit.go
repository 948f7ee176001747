// Package audit keeps the append-only audit trail of job transitions and
// reconciliation runs in size-rotated files, zipping files past retention.
package audit

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ClaimSync/internal/config"
)

const (
	rotateEvery = 10 * time.Second
	sweepEvery  = 24 * time.Hour
)

type Logger struct {
	mu            sync.Mutex
	file          *os.File
	out           *log.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	currentLog    string
	maxFileBytes  int64
	retentionDays int
	folderPath    string
	seq           int
	now           func() time.Time
}

func New(conf config.Audit) *Logger {
	folder := conf.Folder
	if folder == "" {
		folder = "./logs"
	}
	return &Logger{
		stopCh:        make(chan struct{}),
		maxFileBytes:  int64(conf.MaxFileMB) * 1024 * 1024,
		retentionDays: conf.RetentionDays,
		folderPath:    folder,
		now:           time.Now,
	}
}

func (l *Logger) Name() string {
	return "audit"
}

// Start opens the first file and runs rotation in the background.
func (l *Logger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.folderPath, 0o755); err != nil {
		return err
	}
	if err := l.openLocked(); err != nil {
		return err
	}
	l.out.Printf("[AUDIT] started, writing to %s", l.currentLog)

	l.wg.Add(1)
	go l.backgroundWorker()
	return nil
}

// Stop closes the current file. Calling it more than once is harmless.
func (l *Logger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.out.Printf("[AUDIT] stopping")
	err := l.file.Close()
	l.file, l.out = nil, nil
	return err
}

// LogAudit appends one line. It is a no-op before Start and after Stop.
func (l *Logger) LogAudit(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	l.out.Printf("[AUDIT] %s", msg)
}

// CurrentFile is the path being written.
func (l *Logger) CurrentFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLog
}

func (l *Logger) openLocked() error {
	l.seq++
	name := filepath.Join(l.folderPath, fmt.Sprintf("audit_%s_%d.log", l.now().Format("20060102_150405"), l.seq))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentLog = name
	l.out = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	return nil
}

// RotateIfNeeded starts a new file once the current one reaches the size limit.
func (l *Logger) RotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || l.maxFileBytes <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.maxFileBytes {
		return nil
	}
	old := l.currentLog
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := l.openLocked(); err != nil {
		return err
	}
	l.out.Printf("[AUDIT] rotated from %s", filepath.Base(old))
	return nil
}

func (l *Logger) backgroundWorker() {
	defer l.wg.Done()
	ticker := time.NewTicker(rotateEvery)
	retentionTicker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.RotateIfNeeded(); err != nil {
				l.LogAudit("rotation failed: " + err.Error())
			}
		case <-retentionTicker.C:
			if _, err := l.ZipOldLogs(); err != nil {
				l.LogAudit("retention sweep failed: " + err.Error())
			}
		}
	}
}

// ZipOldLogs moves log files older than the retention period into a dated
// zip archive and returns how many were archived.
func (l *Logger) ZipOldLogs() (int, error) {
	if l.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -l.retentionDays)
	entries, err := os.ReadDir(l.folderPath)
	if err != nil {
		return 0, err
	}

	var old []string
	current := l.CurrentFile()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		full := filepath.Join(l.folderPath, e.Name())
		info, err := e.Info()
		if err != nil || full == current || info.ModTime().After(cutoff) {
			continue
		}
		old = append(old, full)
	}
	if len(old) == 0 {
		return 0, nil
	}

	zipName := filepath.Join(l.folderPath, fmt.Sprintf("audit_%s.zip", l.now().Format("20060102_150405")))
	zipFile, err := os.Create(zipName)
	if err != nil {
		return 0, err
	}
	defer zipFile.Close()
	zw := zip.NewWriter(zipFile)

	archived := 0
	for _, path := range old {
		if err := addToZip(zw, path); err != nil {
			continue
		}
		_ = os.Remove(path)
		archived++
	}
	return archived, zw.Close()
}

func addToZip(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
