// Package config reads the run settings from viper (flags, environment and
// config file) and sets up logging.
package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Tiles            string            `mapstructure:"tiles"`
	GroundTruth      string            `mapstructure:"groundTruth"`
	GroundTruthIndex map[string]string `mapstructure:"groundTruthIndex"`
	Out              string            `mapstructure:"out"`
	Years            []string          `mapstructure:"years"`
	TilePrefix       string            `mapstructure:"tilePrefix"`

	IDField       string `mapstructure:"idField"`
	PrimaryField  string `mapstructure:"primaryField"`
	FallbackField string `mapstructure:"fallbackField"`

	DateOffset int    `mapstructure:"dateOffset"`
	DateLayout string `mapstructure:"dateLayout"`
	Window     int    `mapstructure:"window"`
	AggFunc    string `mapstructure:"aggFunc"`
	NumWorkers int    `mapstructure:"numWorkers"`
	S2Lvl      int    `mapstructure:"s2Lvl"`

	Verbose bool `mapstructure:"verbose"`
	Debug   bool `mapstructure:"debug"`
	Log     Log  `mapstructure:"log"`
}

type Log struct {
	File string `mapstructure:"file"`
}

// SetDefaults registers the default of every key not bound to a flag.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tilePrefix", "sortie")
	v.SetDefault("idField", "Id_sitesAS")
	v.SetDefault("primaryField", "typo_veg")
	v.SetDefault("fallbackField", "MILIEU")
	v.SetDefault("dateOffset", 4)
	v.SetDefault("dateLayout", "20060102")
	v.SetDefault("window", 1)
	v.SetDefault("aggFunc", "mean")
	v.SetDefault("numWorkers", 1)
	v.SetDefault("s2Lvl", 13)
}

// Load decodes the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, eris.Wrap(err, "decode configuration")
	}
	return &c, nil
}

// ValidateBuild checks the settings the build command needs.
func (c *Config) ValidateBuild() error {
	if c.Tiles == "" {
		return eris.New("tiles folder is required")
	}
	if c.Out == "" {
		return eris.New("output folder is required")
	}
	if c.GroundTruth == "" && len(c.GroundTruthIndex) == 0 {
		return eris.New("a ground truth folder or a groundTruthIndex is required")
	}
	if c.NumWorkers < 1 {
		return eris.Errorf("numWorkers must be at least 1, got %d", c.NumWorkers)
	}
	if c.Window < 1 || c.Window%2 == 0 {
		return eris.Errorf("window must be a positive odd number, got %d", c.Window)
	}
	if c.S2Lvl < 0 || c.S2Lvl > 30 {
		return eris.Errorf("s2Lvl must be within [0, 30], got %d", c.S2Lvl)
	}
	return nil
}

// SetLogLevels applies --debug, then --verbose, else warnings only.
func SetLogLevels(logger *logrus.Logger, c *Config) {
	if c.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else if c.Verbose {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
}

// SetupLogging sets the log level and, when a log file is configured,
// truncates it and mirrors the log output into it. The returned function
// closes the file and must be called when the run ends.
func SetupLogging(logger *logrus.Logger, c *Config) (func() error, error) {
	SetLogLevels(logger, c)
	if c.Log.File == "" {
		return func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Log.File), 0o755); err != nil {
		return nil, eris.Wrap(err, "create log folder")
	}
	f, err := os.Create(c.Log.File)
	if err != nil {
		return nil, eris.Wrapf(err, "create log file %s", c.Log.File)
	}
	prev := logger.Out
	logger.SetOutput(io.MultiWriter(prev, f))
	return func() error {
		logger.SetOutput(prev)
		return f.Close()
	}, nil
}
