package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validSpool = "schema_version: 1\nfile_type: spool_unprocessed\nrequests: []\n"

func TestQuarantine(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "spool.yaml")
	os.WriteFile(path, []byte("broken: ["), 0644)

	dst, err := Quarantine(workDir, path)
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original should be moved")
	}
	if filepath.Dir(dst) != filepath.Join(workDir, QuarantineDir) || !strings.HasSuffix(dst, ".corrupt") {
		t.Errorf("unexpected quarantine path %s", dst)
	}
}

func TestRestoreFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.yaml")
	os.WriteFile(path+".bak", []byte(validSpool), 0644)

	if err := RestoreFromBackup(path, FileTypeSpool); err != nil {
		t.Fatalf("RestoreFromBackup: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != validSpool {
		t.Errorf("restored content %q", data)
	}
}

func TestRestoreFromBackup_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.yaml")
	if err := RestoreFromBackup(path, FileTypeSpool); err == nil {
		t.Error("expected error without backup")
	}

	os.WriteFile(path+".bak", []byte("schema_version: 1\nfile_type: other\n"), 0644)
	if err := RestoreFromBackup(path, FileTypeSpool); err == nil || !strings.Contains(err.Error(), "also corrupted") {
		t.Errorf("expected corrupted backup error, got %v", err)
	}
}

func TestRecover(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		dir := t.TempDir()
		ok, err := Recover(dir, filepath.Join(dir, "spool.yaml"), FileTypeSpool, nil)
		if ok || err != nil {
			t.Errorf("got ok=%v err=%v", ok, err)
		}
	})

	t.Run("valid file untouched", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "spool.yaml")
		os.WriteFile(path, []byte(validSpool), 0644)
		ok, err := Recover(dir, path, FileTypeSpool, nil)
		if !ok || err != nil {
			t.Errorf("got ok=%v err=%v", ok, err)
		}
	})

	t.Run("corrupt with backup", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "spool.yaml")
		os.WriteFile(path, []byte("{{{"), 0644)
		os.WriteFile(path+".bak", []byte(validSpool), 0644)

		ok, err := Recover(dir, path, FileTypeSpool, nil)
		if !ok || err != nil {
			t.Fatalf("got ok=%v err=%v", ok, err)
		}
		if err := ValidateSchemaHeader(path, FileTypeSpool); err != nil {
			t.Errorf("restored file invalid: %v", err)
		}
		entries, _ := os.ReadDir(filepath.Join(dir, QuarantineDir))
		if len(entries) != 1 {
			t.Errorf("expected 1 quarantined file, got %d", len(entries))
		}
	})

	t.Run("corrupt without backup", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "spool.yaml")
		os.WriteFile(path, []byte("schema_version: 9\nfile_type: spool_unprocessed\n"), 0644)

		ok, err := Recover(dir, path, FileTypeSpool, nil)
		if ok || err != nil {
			t.Fatalf("got ok=%v err=%v", ok, err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("corrupt file should be gone")
		}
	})
}
