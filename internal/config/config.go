package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a classification run.
type Config struct {
	Folder       string  `yaml:"folder"`
	DBPrefix     string  `yaml:"db_prefix"`
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	ValFraction  float64 `yaml:"val_fraction"`
	Force        bool    `yaml:"force"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	NumWorkers   int     `yaml:"num_workers"`
	Seed         int64   `yaml:"seed"`
	LearningRate float64 `yaml:"learning_rate"`
	LogEvery     int     `yaml:"log_every"`
	JobDir       string  `yaml:"job_dir"`
	JobName      string  `yaml:"job_name"`
	Compression  int     `yaml:"compression"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Folder     string
	DBPrefix   string
	Epochs     int
	BatchSize  int
	NumWorkers int
	Seed       int64
	LogEvery   int
	Force      bool
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DBPrefix:    "coco",
		Width:       224,
		Height:      224,
		ValFraction: 0.1,
		Epochs:      50,
		BatchSize:   32,
		NumWorkers:  4,
		Seed:        42,
		LogEvery:    50,
		Compression: 3,
	}
}

// Load reads and validates a Config from YAML. Keys absent from the file keep
// their Default values.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default, rejecting unknown keys.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if len(raw) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Folder != "" {
		c.Folder = o.Folder
	}
	if o.DBPrefix != "" {
		c.DBPrefix = o.DBPrefix
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Force {
		c.Force = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Folder == "" {
		return errors.New("folder must be set")
	}
	if c.DBPrefix == "" {
		return errors.New("db_prefix must be set")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("width and height must be > 0 (got %dx%d)", c.Width, c.Height)
	}
	if c.ValFraction <= 0 || c.ValFraction >= 1 {
		return errors.Errorf("val_fraction must be in (0, 1) (got %v)", c.ValFraction)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return errors.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.LearningRate < 0 {
		return errors.Errorf("learning_rate must be >= 0 (got %v)", c.LearningRate)
	}
	if c.Compression < -2 || c.Compression > 9 {
		return errors.Errorf("compression must be a zlib level (got %d)", c.Compression)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}
