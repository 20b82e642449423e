package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"
)

// EnvPrefix prefixes environment overrides of the static config,
// e.g. STREAMLAUNCH_PROJECTID.
const EnvPrefix = "STREAMLAUNCH"

// DefaultFile is the packaged static config looked up when no path is given.
const DefaultFile = "client.json"

// StaticConfig is the packaged client record. Boolean flags are pointers so
// an unset value can fall through to the default.
type StaticConfig struct {
	Title         string `fig:"title"`
	Description   string `fig:"description"`
	LaunchType    string `fig:"launchType"`
	ProjectID     string `fig:"projectId"`
	ModelID       string `fig:"modelId"`
	Version       string `fig:"version"`
	EnvironmentID string `fig:"environmentId"`
	Endpoint      string `fig:"endpoint"`

	UsePointerLock       *bool `fig:"usePointerLock"`
	PointerLockRelease   *bool `fig:"pointerLockRelease"`
	UseNativeTouchEvents *bool `fig:"useNativeTouchEvents"`
}

// LoadStatic reads the static config. A .env file in the working directory is
// loaded first; existing environment variables are never overwritten.
// An empty path searches DefaultFile in "." and "configs", and a missing
// file yields an empty record.
func LoadStatic(path string) (StaticConfig, error) {
	_ = godotenv.Load()

	var cfg StaticConfig
	file, dirs := DefaultFile, []string{".", "configs"}
	if path != "" {
		file, dirs = filepath.Base(path), []string{filepath.Dir(path)}
	}

	err := fig.Load(&cfg, fig.File(file), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		if path != "" {
			return cfg, fmt.Errorf("static config %s: %w", path, os.ErrNotExist)
		}
		err = fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	}
	if err != nil {
		return cfg, fmt.Errorf("load static config: %w", err)
	}
	return cfg, nil
}
