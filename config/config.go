// Package config defines the typed configuration surface for an eventstore
// deployment and loads it with command-line flags and environment
// variables, the way the teacher's cmd/ binaries configure
// themselves via github.com/jessevdk/go-flags (cmd/ingester/main.go,
// cmd/flow-ingester/main.go).
package config

import (
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// LogConfig controls the logrus root logger, mirroring the level/format
// knobs the teacher exposes under its own `--log.*` flag group.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" description:"Logging level: trace, debug, info, warn, error"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"text" choice:"json" description:"Logging output format"`
}

// Apply configures logrus's standard logger from l.
func (l LogConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if l.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{})
	}
	return nil
}

// BlobConfig selects and parameterizes the default backing blob.Store.
type BlobConfig struct {
	Backend          string `long:"backend" env:"BACKEND" default:"azureblob" choice:"azureblob" choice:"gcs" choice:"memory" description:"Blob store backend"`
	ConnectionString string `long:"connection-string" env:"CONNECTION_STRING" description:"Azure Blob Storage connection string (backend=azureblob)"`
	GCSProjectID     string `long:"gcs-project" env:"GCS_PROJECT" description:"GCP project ID (backend=gcs)"`
	AutoCreate       bool   `long:"auto-create-containers" env:"AUTO_CREATE_CONTAINERS" description:"Create containers on first write if absent"`
}

// ProjectionConfig parameterizes the C8 coordinator.
type ProjectionConfig struct {
	TokenTTLSeconds int64 `long:"token-ttl-seconds" env:"TOKEN_TTL_SECONDS" default:"300" description:"Rebuild token TTL before it is considered abandoned"`
}

// LockConfig parameterizes the C7 distributed lock. Backend=etcd is for
// operators who already run etcd for other coordination (shard allocation,
// leader election) and would rather not depend on the blob store's lease
// support; Backend=blob is the default described by spec §4.7.
type LockConfig struct {
	Backend       string   `long:"backend" env:"BACKEND" default:"blob" choice:"blob" choice:"etcd" description:"Distributed lock backend"`
	TTLSeconds    int64    `long:"ttl-seconds" env:"TTL_SECONDS" default:"15" description:"Lease TTL for acquired locks"`
	EtcdEndpoints []string `long:"etcd-endpoint" env:"ETCD_ENDPOINTS" env-delim:"," description:"etcd endpoints (backend=etcd)"`
}

// Config is the top-level configuration object for eventstore binaries.
type Config struct {
	Blob       BlobConfig       `group:"Blob" namespace:"blob" env-namespace:"BLOB"`
	Log        LogConfig        `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Projection ProjectionConfig `group:"Projection" namespace:"projection" env-namespace:"PROJECTION"`
	Lock       LockConfig       `group:"Lock" namespace:"lock" env-namespace:"LOCK"`
}

// Parse parses args (typically os.Args[1:]) into a fresh Config.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
