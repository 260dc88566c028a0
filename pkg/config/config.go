package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"learnedindex/pkg/core"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Data        DataConfig        `yaml:"data"`
	Index       IndexConfig       `yaml:"index"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`     // HTTP Listen Address (e.g. :8080)
	TCPAddr string `yaml:"tcp_addr"` // TCP Listen Address (e.g. :9090)
}

// DataConfig 数据源与本地持久化
type DataConfig struct {
	Dir     string `yaml:"dir"`     // 本地数据目录
	Dataset string `yaml:"dataset"` // 文本数据集: 本地路径或 s3://bucket/object, 可为 .zst
	Model   string `yaml:"model"`   // 训练好的模型描述 (YAML); 为空时用线性路由器训练
	SQLite  string `yaml:"sqlite"`  // 数据集快照, 相对 Dir
	WAL     string `yaml:"wal"`     // 摄入日志, 相对 Dir
}

type IndexConfig struct {
	Kind           string  `yaml:"kind"` // forwarding | btree | learned
	BucketCount    int     `yaml:"bucket_count"`
	Workers        int     `yaml:"workers"`
	Bloom          bool    `yaml:"bloom"`
	BloomFalseProb float64 `yaml:"bloom_false_prob"`
	LeakySlope     float32 `yaml:"leaky_slope"`
}

// ObjectStoreConfig S3 兼容对象存储 (minio)
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var ErrUnknownKind = errors.New("config: unknown index kind")

// Default 返回全部默认值
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			TCPAddr: ":9090",
		},
		Data: DataConfig{
			Dir:    "learnedindex_data",
			SQLite: "dataset.db",
			WAL:    "ingest.wal",
		},
		Index: IndexConfig{
			Kind:           core.KindForwarding,
			BucketCount:    64,
			BloomFalseProb: 0.01,
			LeakySlope:     0.3,
		},
		ObjectStore: ObjectStoreConfig{
			Secure: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/learnedindex.yaml", "learnedindex.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, errors.Wrapf(err, "parse %s", p)
				}
				return cfg, applyDefaults(cfg)
			}
		}
		return cfg, applyDefaults(cfg) // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", configPath)
	}

	return cfg, applyDefaults(cfg)
}

func applyDefaults(cfg *Config) error {
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "learnedindex_data"
	}
	if cfg.Data.SQLite == "" {
		cfg.Data.SQLite = "dataset.db"
	}
	if cfg.Data.WAL == "" {
		cfg.Data.WAL = "ingest.wal"
	}
	if cfg.Index.Kind == "" {
		cfg.Index.Kind = core.KindForwarding
	}
	if cfg.Index.BucketCount <= 0 {
		cfg.Index.BucketCount = 64
	}
	if cfg.Index.Workers < 0 {
		cfg.Index.Workers = 0
	}
	if cfg.Index.BloomFalseProb <= 0 || cfg.Index.BloomFalseProb >= 1 {
		cfg.Index.BloomFalseProb = 0.01
	}
	if cfg.Index.LeakySlope < 0 {
		cfg.Index.LeakySlope = 0.3
	}
	switch cfg.Index.Kind {
	case core.KindForwarding, core.KindBTree, core.KindLearned:
		return nil
	default:
		return errors.Wrapf(ErrUnknownKind, "%q", cfg.Index.Kind)
	}
}

// SQLitePath 数据集快照的完整路径
func (c *Config) SQLitePath() string {
	return joinDir(c.Data.Dir, c.Data.SQLite)
}

// WALPath 摄入日志的完整路径
func (c *Config) WALPath() string {
	return joinDir(c.Data.Dir, c.Data.WAL)
}

func joinDir(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
