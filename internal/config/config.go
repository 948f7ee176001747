package config

import (
	"fmt"
	"time"

	kitconfig "github.com/rudderlabs/rudder-go-kit/config"
)

const (
	DefaultTimeZone          = "Asia/Bangkok"
	DefaultInboxSchedule     = "*/5 * * * *"
	DefaultReconcileSchedule = "30 2 * * *"
	BatchSize                = 100
	HeaderScanRows           = 10
	DefaultThreshold         = "1.00"
	EnvPrefix                = "CLAIMSYNC"
)

type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// DSN is the lib/pq keyword form, the same shape cmd/main has always built.
func (d Database) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// URL is the postgres:// form used by pgxpool.
func (d Database) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode, d.MaxConns)
}

type Importer struct {
	BatchSize    int
	BatchWorkers int
	FileWorkers  int
	FileTimeout  time.Duration
	WaitForLock  bool
	LockWait     time.Duration
	MappingFile  string
	InboxDir     string
	MaxErrors    int
}

type Reconcile struct {
	Threshold  string
	Source     string
	HISDSN     string
	HISQuery   string
	Retries    int
	RetryDelay time.Duration
}

type Archive struct {
	Enabled bool
	Backend string
	Dir     string
	Bucket  string
	Region  string
	Prefix  string
	Timeout time.Duration
}

type Audit struct {
	Folder        string
	MaxFileMB     int
	RetentionDays int
}

type Schedule struct {
	TimeZone  string
	Inbox     string
	Reconcile string
}

type Server struct {
	Port         int
	ServicesFile string
}

// Settings is the full runtime configuration.
type Settings struct {
	Database  Database
	Importer  Importer
	Reconcile Reconcile
	Archive   Archive
	Audit     Audit
	Schedule  Schedule
	Server    Server
}

// New returns a config reader that resolves Section.key settings from
// CLAIMSYNC_SECTION_KEY environment variables and upper-case keys verbatim.
func New() *kitconfig.Config {
	return kitconfig.New(kitconfig.WithEnvPrefix(EnvPrefix))
}

// Load reads every setting with its default.
func Load(conf *kitconfig.Config) Settings {
	return Settings{
		Database: Database{
			Host:     conf.GetString("DB_HOST", "localhost"),
			Port:     conf.GetInt("DB_PORT", 5432),
			User:     conf.GetString("DB_USER", "postgres"),
			Password: conf.GetString("DB_PASSWORD", ""),
			Name:     conf.GetString("DB_NAME", "claimsync"),
			SSLMode:  conf.GetString("DB_SSL_MODE", "disable"),
			MaxConns: conf.GetInt("DB_MAX_CONNS", 10),
		},
		Importer: Importer{
			BatchSize:    conf.GetInt("Importer.batchSize", BatchSize),
			BatchWorkers: conf.GetInt("Importer.batchWorkers", 1),
			FileWorkers:  conf.GetInt("Importer.fileWorkers", 4),
			FileTimeout:  conf.GetDuration("Importer.fileTimeout", 30, time.Minute),
			WaitForLock:  conf.GetBool("Importer.waitForLock", false),
			LockWait:     conf.GetDuration("Importer.lockWait", 5, time.Minute),
			MappingFile:  conf.GetString("Importer.mappingFile", ""),
			InboxDir:     conf.GetString("Importer.inboxDir", "./inbox"),
			MaxErrors:    conf.GetInt("Importer.maxErrors", 100),
		},
		Reconcile: Reconcile{
			Threshold:  conf.GetString("Reconcile.threshold", DefaultThreshold),
			Source:     conf.GetString("Reconcile.source", "statement"),
			HISDSN:     conf.GetString("Reconcile.hisDSN", ""),
			HISQuery:   conf.GetString("Reconcile.hisQuery", ""),
			Retries:    conf.GetInt("Reconcile.retries", 5),
			RetryDelay: conf.GetDuration("Reconcile.retryDelay", 50, time.Millisecond),
		},
		Archive: Archive{
			Enabled: conf.GetBool("Archive.enabled", false),
			Backend: conf.GetString("Archive.backend", "local"),
			Dir:     conf.GetString("Archive.dir", "./archive"),
			Bucket:  conf.GetString("Archive.bucket", ""),
			Region:  conf.GetString("Archive.region", "ap-southeast-1"),
			Prefix:  conf.GetString("Archive.prefix", "claims/"),
			Timeout: conf.GetDuration("Archive.timeout", 60, time.Second),
		},
		Audit: Audit{
			Folder:        conf.GetString("Audit.folder", "./logs"),
			MaxFileMB:     conf.GetInt("Audit.maxFileMB", 50),
			RetentionDays: conf.GetInt("Audit.retentionDays", 30),
		},
		Schedule: Schedule{
			TimeZone:  conf.GetString("Schedule.timeZone", DefaultTimeZone),
			Inbox:     conf.GetString("Schedule.inbox", DefaultInboxSchedule),
			Reconcile: conf.GetString("Schedule.reconcile", DefaultReconcileSchedule),
		},
		Server: Server{
			Port:         conf.GetInt("Server.port", 8080),
			ServicesFile: conf.GetString("Server.servicesFile", "./services.yaml"),
		},
	}
}
