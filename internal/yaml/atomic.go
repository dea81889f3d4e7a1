// Package yaml writes YAML files atomically and recovers ones found corrupt
// at startup.
package yaml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals doc and replaces path with it. With a non-empty
// fileType the marshalled document must carry a schema header of that type,
// so a file the daemon cannot read back is never written.
func AtomicWrite(path, fileType string, doc any) error {
	content, err := yamlv3.Marshal(doc)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	if fileType != "" {
		if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
			return fmt.Errorf("schema check %s: %w", filepath.Base(path), err)
		}
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw checks that content parses as YAML, keeps the current file
// at path + ".bak" and renames a synced temp file over path.
func AtomicWriteRaw(path string, content []byte) error {
	var v any
	if err := yamlv3.Unmarshal(content, &v); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := backup(path); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	return replace(path, content)
}

// backup copies path to path + ".bak". A missing path is not an error.
func backup(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path+".bak", data, 0644)
}

// replace writes content next to path and renames it into place, then syncs
// the directory so the rename survives a crash.
func replace(path string, content []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
