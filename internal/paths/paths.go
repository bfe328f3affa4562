// Package paths resolves golisten's files: the config lookup, the data
// dir under the home directory and the per-boot state dir.
// It imports nothing from golisten so every package can use it.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigFileName is looked up in the working directory, then the data dir.
const ConfigFileName = "golisten.toml"

const dataDirName = ".golisten"

func home() (string, error) {
	h, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("paths: home directory: %w", err)
	}
	return h, nil
}

// BaseDir is ~/.golisten.
func BaseDir() (string, error) {
	h, err := home()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, dataDirName), nil
}

// DataPath joins name onto BaseDir.
func DataPath(name string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}

// ConfigPath returns the first golisten.toml found, as an absolute path,
// or "" when there is none. Running without a config file is normal.
func ConfigPath() (string, error) {
	global, err := DefaultConfigPath()
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{ConfigFileName, global} {
		info, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("paths: %w", err)
		}
		return filepath.Abs(candidate)
	}
	return "", nil
}

// DefaultConfigPath is where `golisten doctor --write-config` writes.
func DefaultConfigPath() (string, error) {
	return DataPath(ConfigFileName)
}

// DefaultStateDir sits under the system temp dir, so a reboot clears any
// half-finished session.
func DefaultStateDir() string {
	return filepath.Join(os.TempDir(), "golisten")
}

// EnsureParentDir creates the directory that will hold file.
func EnsureParentDir(file string) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("paths: create %s: %w", dir, err)
	}
	return nil
}

// ExpandTilde replaces a leading "~" or "~/" with the home directory.
// "~user" forms are returned unchanged.
func ExpandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	h, err := home()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, strings.TrimPrefix(path, "~")), nil
}
