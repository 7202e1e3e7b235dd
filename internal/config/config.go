// Package config assembles the server's environment-sourced configuration
// once at startup, grounded on the teacher's config/env.go LoadEnvVar
// convention: every variable can also be supplied as "<NAME>_FILE" pointing
// at a file holding the value, which is how the teacher's ingesters read
// indexer secrets mounted by an orchestrator.
package config

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"

	"mediaserver/internal/logging"
	"mediaserver/internal/mediaerr"
)

var (
	errNoEnvArg     = errors.New("no env arg")
	ErrEmptyEnvFile = errors.New("environment secret file is empty")
)

// Config holds every setting read from the environment. It is built once
// in Load and never re-read afterward.
type Config struct {
	DatabaseURL   string
	UploadPath    string
	HMACKey       string
	ListenAddr    string
	ImageConcurrency int64
	MaxUploadBytes   int64
	LogLevel      logging.Level
}

func loadEnvFile(nm string) (string, error) {
	fin, err := os.Open(nm)
	if err != nil {
		return "", err
	}
	defer fin.Close()
	s := bufio.NewScanner(fin)
	s.Scan()
	if err := s.Err(); err != nil {
		return "", err
	}
	r := s.Text()
	if r == "" {
		return "", ErrEmptyEnvFile
	}
	return r, nil
}

func loadEnv(name string) (string, error) {
	if s, ok := os.LookupEnv(name); ok {
		return s, nil
	}
	if fp, ok := os.LookupEnv(name + "_FILE"); ok {
		return loadEnvFile(fp)
	}
	return "", errNoEnvArg
}

// stringVar reads name from the environment (or name_FILE), falling back to
// def. required=true makes a missing value a *mediaerr.Error via the
// returned error.
func stringVar(name, def string, required bool) (string, error) {
	v, err := loadEnv(name)
	if err == errNoEnvArg {
		if required {
			return "", mediaerr.Configf("missing required environment variable %s", name)
		}
		return def, nil
	} else if err != nil {
		return "", err
	}
	return v, nil
}

func int64Var(name string, def int64) (int64, error) {
	v, err := loadEnv(name)
	if err == errNoEnvArg {
		return def, nil
	} else if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Load reads DATABASE_URL, UPLOAD_PATH, CONTENT_HMAC_KEY and the remaining
// ambient settings from the environment exactly once.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.DatabaseURL, err = stringVar("DATABASE_URL", "", true); err != nil {
		return nil, err
	}
	if cfg.HMACKey, err = stringVar("CONTENT_HMAC_KEY", "", true); err != nil {
		return nil, err
	}
	if cfg.UploadPath, err = stringVar("UPLOAD_PATH", "./files", false); err != nil {
		return nil, err
	}
	if cfg.ListenAddr, err = stringVar("LISTEN_ADDR", ":8080", false); err != nil {
		return nil, err
	}
	if cfg.ImageConcurrency, err = int64Var("IMAGE_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = int64Var("MAX_UPLOAD_BYTES", 64<<20); err != nil {
		return nil, err
	}
	levelStr, err := stringVar("LOG_LEVEL", "INFO", false)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = logging.ParseLevel(levelStr)

	return cfg, nil
}
