package img2img

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. IMG2IMG_LEARNING_RATE.
const EnvPrefix = "IMG2IMG"

// Config holds the training-support settings. Every field is required;
// start from DefaultConfig.
type Config struct {
	NormMean      []float64        `mapstructure:"norm_mean"`
	NormStd       []float64        `mapstructure:"norm_std"`
	Device        string           `mapstructure:"device"`
	Workers       int              `mapstructure:"workers"`
	Seed          int64            `mapstructure:"seed"`
	LearningRate  float64          `mapstructure:"learning_rate"`
	Beta1         float64          `mapstructure:"beta1"`
	Beta2         float64          `mapstructure:"beta2"`
	BatchSize     int              `mapstructure:"batch_size"`
	SampleDir     string           `mapstructure:"sample_dir"`
	EvaluationDir string           `mapstructure:"evaluation_dir"`
	LogDir        string           `mapstructure:"log_dir"`
	GridRows      int              `mapstructure:"grid_rows"`
	GridPadding   int              `mapstructure:"grid_padding"`
	Checkpoint    CheckpointConfig `mapstructure:"checkpoint"`
	Debug         bool             `mapstructure:"debug"`
}

// CheckpointConfig selects where checkpoints live and how often they are
// written. Bucket switches the store from Dir to S3.
type CheckpointConfig struct {
	Dir           string `mapstructure:"dir"`
	Generator     string `mapstructure:"generator"`
	Discriminator string `mapstructure:"discriminator"`
	Every         int    `mapstructure:"every"`
	SampleEvery   int    `mapstructure:"sample_every"`
	Load          bool   `mapstructure:"load"`
	Save          bool   `mapstructure:"save"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
}

// DefaultConfig returns the pix2pix settings: images normalized to
// [-1, 1] with mean and std 0.5, Adam at 2e-4 with betas (0.5, 0.999).
func DefaultConfig() Config {
	return Config{
		NormMean:      []float64{0.5, 0.5, 0.5},
		NormStd:       []float64{0.5, 0.5, 0.5},
		Device:        "auto",
		Seed:          42,
		LearningRate:  2e-4,
		Beta1:         0.5,
		Beta2:         0.999,
		BatchSize:     16,
		SampleDir:     "evaluation",
		EvaluationDir: "evaluation/val",
		LogDir:        "runs",
		GridRows:      4,
		GridPadding:   0,
		Checkpoint: CheckpointConfig{
			Dir:           "checkpoints",
			Generator:     "gen.pth.tar",
			Discriminator: "disc.pth.tar",
			Every:         5,
			SampleEvery:   1,
			Save:          true,
		},
	}
}

// Validate checks all required fields are set
func (c Config) Validate() error {
	if len(c.NormMean) == 0 || len(c.NormStd) == 0 {
		return errors.New("img2img: NormMean and NormStd are required")
	}
	if len(c.NormMean) != len(c.NormStd) && len(c.NormMean) != 1 && len(c.NormStd) != 1 {
		return errors.Errorf("img2img: NormMean has %d values, NormStd %d", len(c.NormMean), len(c.NormStd))
	}
	for _, s := range c.NormStd {
		if s == 0 {
			return errors.New("img2img: NormStd values must be non-zero")
		}
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("img2img: LearningRate must be > 0, got %g", c.LearningRate)
	}
	if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
		return errors.Errorf("img2img: betas must be in [0, 1), got (%g, %g)", c.Beta1, c.Beta2)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("img2img: BatchSize must be > 0, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return errors.Errorf("img2img: Workers must be >= 0, got %d", c.Workers)
	}
	if c.GridRows <= 0 {
		return errors.Errorf("img2img: GridRows must be > 0, got %d", c.GridRows)
	}
	if c.GridPadding < 0 {
		return errors.Errorf("img2img: GridPadding must be >= 0, got %d", c.GridPadding)
	}
	if c.SampleDir == "" || c.EvaluationDir == "" {
		return errors.New("img2img: SampleDir and EvaluationDir are required")
	}
	if c.Checkpoint.Every < 0 || c.Checkpoint.SampleEvery < 0 {
		return errors.New("img2img: checkpoint intervals must be >= 0")
	}
	if c.Checkpoint.Bucket == "" && c.Checkpoint.Dir == "" {
		return errors.New("img2img: Checkpoint.Dir or Checkpoint.Bucket is required")
	}
	if c.Checkpoint.Generator == "" || c.Checkpoint.Discriminator == "" {
		return errors.New("img2img: checkpoint file names are required")
	}
	if _, err := ParseDevice(c.Device, c.Workers); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads path (YAML, JSON or TOML; empty for defaults only) on
// top of DefaultConfig and applies IMG2IMG_* environment overrides, with
// nested keys joined by underscores (IMG2IMG_CHECKPOINT_DIR). A .env file
// next to the config file, or in the working directory, is loaded first;
// variables already set in the environment win.
func LoadConfig(path string) (Config, error) {
	envFiles := []string{".env"}
	if path != "" {
		envFiles = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envFiles...)
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, errors.Wrapf(err, "load %s", f)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	Logger().Debug("config loaded", "file", v.ConfigFileUsed(), "device", cfg.Device, "lr", cfg.LearningRate)
	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("norm_mean", c.NormMean)
	v.SetDefault("norm_std", c.NormStd)
	v.SetDefault("device", c.Device)
	v.SetDefault("workers", c.Workers)
	v.SetDefault("seed", c.Seed)
	v.SetDefault("learning_rate", c.LearningRate)
	v.SetDefault("beta1", c.Beta1)
	v.SetDefault("beta2", c.Beta2)
	v.SetDefault("batch_size", c.BatchSize)
	v.SetDefault("sample_dir", c.SampleDir)
	v.SetDefault("evaluation_dir", c.EvaluationDir)
	v.SetDefault("log_dir", c.LogDir)
	v.SetDefault("grid_rows", c.GridRows)
	v.SetDefault("grid_padding", c.GridPadding)
	v.SetDefault("debug", c.Debug)
	v.SetDefault("checkpoint.dir", c.Checkpoint.Dir)
	v.SetDefault("checkpoint.generator", c.Checkpoint.Generator)
	v.SetDefault("checkpoint.discriminator", c.Checkpoint.Discriminator)
	v.SetDefault("checkpoint.every", c.Checkpoint.Every)
	v.SetDefault("checkpoint.sample_every", c.Checkpoint.SampleEvery)
	v.SetDefault("checkpoint.load", c.Checkpoint.Load)
	v.SetDefault("checkpoint.save", c.Checkpoint.Save)
	v.SetDefault("checkpoint.bucket", c.Checkpoint.Bucket)
	v.SetDefault("checkpoint.prefix", c.Checkpoint.Prefix)
	v.SetDefault("checkpoint.region", c.Checkpoint.Region)
	v.SetDefault("checkpoint.endpoint", c.Checkpoint.Endpoint)
}

// Apply installs the device and debug settings of c.
func (c Config) Apply() error {
	d, err := ParseDevice(c.Device, c.Workers)
	if err != nil {
		return err
	}
	UseDevice(d)
	SetDebug(c.Debug)
	return nil
}

// OpenStore returns the checkpoint store c describes: S3 when a bucket is
// set, otherwise a local directory.
func (c Config) OpenStore() (CheckpointStore, error) {
	if c.Checkpoint.Bucket != "" {
		return NewS3Store(S3Config{
			Region:   c.Checkpoint.Region,
			Bucket:   c.Checkpoint.Bucket,
			Prefix:   c.Checkpoint.Prefix,
			Endpoint: c.Checkpoint.Endpoint,
		})
	}
	return NewFileStore(c.Checkpoint.Dir)
}
