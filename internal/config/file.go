package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// DefaultBackupCount is how many previous versions Save keeps when the
// caller passes 0.
const DefaultBackupCount = 3

// AtomicWrite replaces path with data through a synced temp file in the
// same directory and a rename. Readers see the old bytes or the new ones.
func AtomicWrite(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = f.Chmod(perm); err != nil {
		return fmt.Errorf("atomic write %s: chmod: %w", path, err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("atomic write %s: sync: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("atomic write %s: close: %w", path, err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	return nil
}

// Save writes cfg as TOML. The file it replaces becomes path.bak and older
// copies shift down to path.bak.1 ... path.bak.<keep-1>.
func Save(path string, cfg *Config, keep int) error {
	if keep <= 0 {
		keep = DefaultBackupCount
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if prev, err := os.ReadFile(path); err == nil {
		shiftBackups(path, keep)
		if err := AtomicWrite(backupName(path, 0), prev, 0600); err != nil {
			L_warn("config: backup failed, saving anyway", "path", path, "error", err)
		}
	}

	if err := AtomicWrite(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	L_debug("config: saved", "path", path)
	return nil
}

func backupName(path string, slot int) string {
	if slot == 0 {
		return path + ".bak"
	}
	return fmt.Sprintf("%s.bak.%d", path, slot)
}

// shiftBackups moves every backup one slot older. The rename into the last
// slot overwrites, which drops the oldest copy.
func shiftBackups(path string, keep int) {
	for slot := keep - 1; slot > 0; slot-- {
		err := os.Rename(backupName(path, slot-1), backupName(path, slot))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			L_trace("config: backup rotation", "slot", slot, "error", err)
		}
	}
}
