package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOTING"

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AdminToken      string
}

type StoreConfig struct {
	Path         string
	NoSync       bool
	OpenTimeout  time.Duration
	SnapshotDir  string
	SnapshotKeep int
}

type KeyConfig struct {
	MasterKey      string
	MasterKeyFile  string
	HashSecretFile string
	SigningKeyFile string
}

type VotingConfig struct {
	DefaultVoteDuration time.Duration
	SweepInterval       time.Duration
	SweepBatchSize      int
	TreeCacheSize       int
}

type LogConfig struct {
	Level      string
	Stdout     bool
	File       bool
	Dir        string
	ByLevel    bool
	LineNumber bool
}

type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Keys   KeyConfig
	Voting VotingConfig
	Log    LogConfig
}

// SetDefaults registers every key so that env overrides apply even when no
// config file is present.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dir.root", "data")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("store.path", "")
	v.SetDefault("store.no_sync", false)
	v.SetDefault("store.open_timeout", time.Second)
	v.SetDefault("store.snapshot_dir", "")
	v.SetDefault("store.snapshot_keep", 5)

	v.SetDefault("keys.master_key", "")
	v.SetDefault("keys.master_key_file", "")
	v.SetDefault("keys.hash_secret_file", "")
	v.SetDefault("keys.signing_key_file", "")

	v.SetDefault("voting.default_vote_duration", 60*time.Second)
	v.SetDefault("voting.sweep_interval", 5*time.Second)
	v.SetDefault("voting.sweep_batch_size", 256)
	v.SetDefault("voting.tree_cache_size", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.by_level", false)
	v.SetDefault("log.line_number", false)
}

// Prepare loads .env files, binds the environment and reads the config file
// if one is given. A missing .env is not an error.
func Prepare(v *viper.Viper, configFile string) error {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("loaded .env")
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config %s", configFile)
	}
	logrus.WithField("file", v.ConfigFileUsed()).Info("config loaded")
	return nil
}

// Load builds a Config from v. Paths left empty are placed under dir.root.
func Load(v *viper.Viper) (*Config, error) {
	root := v.GetString("dir.root")
	under := func(key, name string) string {
		if p := v.GetString(key); p != "" {
			return p
		}
		return filepath.Join(root, name)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AdminToken:      v.GetString("server.admin_token"),
		},
		Store: StoreConfig{
			Path:         under("store.path", "voting.db"),
			NoSync:       v.GetBool("store.no_sync"),
			OpenTimeout:  v.GetDuration("store.open_timeout"),
			SnapshotDir:  under("store.snapshot_dir", "snapshots"),
			SnapshotKeep: v.GetInt("store.snapshot_keep"),
		},
		Keys: KeyConfig{
			MasterKey:      v.GetString("keys.master_key"),
			MasterKeyFile:  under("keys.master_key_file", filepath.Join("private", "master.key")),
			HashSecretFile: under("keys.hash_secret_file", filepath.Join("private", "hash.secret")),
			SigningKeyFile: under("keys.signing_key_file", filepath.Join("private", "signer.json")),
		},
		Voting: VotingConfig{
			DefaultVoteDuration: v.GetDuration("voting.default_vote_duration"),
			SweepInterval:       v.GetDuration("voting.sweep_interval"),
			SweepBatchSize:      v.GetInt("voting.sweep_batch_size"),
			TreeCacheSize:       v.GetInt("voting.tree_cache_size"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Stdout:     v.GetBool("log.stdout"),
			File:       v.GetBool("log.file"),
			Dir:        under("log.dir", "log"),
			ByLevel:    v.GetBool("log.by_level"),
			LineNumber: v.GetBool("log.line_number"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("server.addr is required")
	case c.Server.AdminToken != "" && len(c.Server.AdminToken) < 16:
		return errors.New("server.admin_token must be at least 16 characters")
	case c.Store.Path == "":
		return errors.New("store.path is required")
	case c.Store.SnapshotKeep < 1:
		return errors.New("store.snapshot_keep must be at least 1")
	case c.Voting.DefaultVoteDuration < time.Second:
		return errors.Errorf("voting.default_vote_duration %s is too short", c.Voting.DefaultVoteDuration)
	case c.Voting.SweepInterval <= 0:
		return errors.New("voting.sweep_interval must be positive")
	case c.Voting.SweepBatchSize < 1:
		return errors.New("voting.sweep_batch_size must be at least 1")
	case c.Voting.TreeCacheSize < 1:
		return errors.New("voting.tree_cache_size must be at least 1")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}
