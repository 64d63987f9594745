package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

const (
	defaultTimeout  = 3 * time.Second
	defaultBackend  = "periph"
	defaultChip     = "gpiochip0"
	defaultLogLevel = "info"
)

// Config holds the sensor wiring and runtime options.
type Config struct {
	TriggerPin int
	EchoPin    int
	HeightMM   float64
	Timeout    time.Duration
	Backend    string
	Chip       string
	LogLevel   string
}

// iniSection and iniKeys describe the pi-garden config.ini layout, mapped onto
// the environment keys read by Load.
const iniSection = "SENSORS"

var iniKeys = map[string]string{
	"SonarTrigger": "SONAR_TRIGGER",
	"SonarEcho":    "SONAR_ECHO",
	"SonarHeight":  "SONAR_HEIGHT",
}

// DefaultPath returns the key/value file read when SONAR_CONFIG is unset.
func DefaultPath() string {
	return homeFile("config.env")
}

// DefaultINIPath returns the pi-garden config.ini read after DefaultPath.
func DefaultINIPath() string {
	return homeFile("config.ini")
}

func homeFile(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, "pi-garden", name)
}

// Load reads configuration from environment variables, first loading the
// file at path if it exists. Files ending in .ini are read as a pi-garden
// config.ini, anything else as key/value pairs. Variables already present in
// the environment take precedence over the file. An empty path means
// DefaultPath, then DefaultINIPath.
func Load(path string) (Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv("SONAR_CONFIG"))
	}
	paths := []string{path}
	if path == "" {
		paths = []string{DefaultPath(), DefaultINIPath()}
	}
	for _, p := range paths {
		if err := loadFile(p); err != nil {
			return Config{}, fmt.Errorf("loading %s: %w", p, err)
		}
	}

	cfg := Config{}
	var err error

	if cfg.TriggerPin, err = requiredInt("SONAR_TRIGGER"); err != nil {
		return cfg, err
	}
	if cfg.EchoPin, err = requiredInt("SONAR_ECHO"); err != nil {
		return cfg, err
	}
	if cfg.TriggerPin == cfg.EchoPin {
		return cfg, fmt.Errorf("SONAR_TRIGGER and SONAR_ECHO must differ (both %d)", cfg.EchoPin)
	}

	v := strings.TrimSpace(os.Getenv("SONAR_HEIGHT"))
	if v == "" {
		return cfg, errors.New("SONAR_HEIGHT is required")
	}
	if cfg.HeightMM, err = strconv.ParseFloat(v, 64); err != nil {
		return cfg, fmt.Errorf("invalid SONAR_HEIGHT: %w", err)
	}

	cfg.Timeout = defaultTimeout
	if v := strings.TrimSpace(os.Getenv("SONAR_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SONAR_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("invalid SONAR_TIMEOUT: %s is not positive", d)
		}
		cfg.Timeout = d
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("SONAR_BACKEND")))
	switch cfg.Backend {
	case "":
		cfg.Backend = defaultBackend
	case "periph", "gpiod":
	default:
		return cfg, fmt.Errorf("invalid SONAR_BACKEND %q: want periph or gpiod", cfg.Backend)
	}

	cfg.Chip = strings.TrimSpace(os.Getenv("SONAR_CHIP"))
	if cfg.Chip == "" {
		cfg.Chip = defaultChip
	}

	cfg.LogLevel = strings.TrimSpace(os.Getenv("SONAR_LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	return cfg, nil
}

func loadFile(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		return loadINI(path)
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// loadINI copies the sensor keys of a config.ini into the environment, leaving
// variables that are already set untouched. A missing file is not an error.
func loadINI(path string) error {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return err
	}
	sec := f.Section(iniSection)
	for key, env := range iniKeys {
		if !sec.HasKey(key) {
			continue
		}
		if _, ok := os.LookupEnv(env); ok {
			continue
		}
		if err := os.Setenv(env, sec.Key(key).String()); err != nil {
			return err
		}
	}
	return nil
}

func requiredInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: %d is negative", key, n)
	}
	return n, nil
}
