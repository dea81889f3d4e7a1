package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

type spoolDoc struct {
	SchemaHeader `yaml:",inline"`
	Requests     []string `yaml:"requests"`
}

func TestAtomicWrite_CreatesDirectoryAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool", "unprocessed.yaml")

	doc := spoolDoc{SchemaHeader: NewHeader(FileTypeSpool), Requests: []string{"root1 grp1"}}
	if err := AtomicWrite(path, FileTypeSpool, doc); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var got spoolDoc
	if err := yamlv3.Unmarshal(content, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.FileType != FileTypeSpool || got.SchemaVersion != CurrentSchemaVersion || len(got.Requests) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestAtomicWrite_CreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")

	if err := AtomicWrite(path, "", map[string]string{"version": "1"}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWrite(path, "", map[string]string{"version": "2"}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	read := func(p string) map[string]string {
		content, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile %s: %v", p, err)
		}
		var m map[string]string
		if err := yamlv3.Unmarshal(content, &m); err != nil {
			t.Fatalf("Unmarshal %s: %v", p, err)
		}
		return m
	}
	if v := read(path + ".bak")["version"]; v != "1" {
		t.Errorf("backup version: got %q, want 1", v)
	}
	if v := read(path)["version"]; v != "2" {
		t.Errorf("current version: got %q, want 2", v)
	}
}

func TestAtomicWriteRaw_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")

	if err := AtomicWriteRaw(path, []byte(":\n  invalid: [\n    broken")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not exist after failed write")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		t.Errorf("unexpected file remaining: %s", entry.Name())
	}
}

func TestAtomicWrite_RejectsMissingSchemaHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unprocessed.yaml")

	err := AtomicWrite(path, FileTypeSpool, map[string][]string{"requests": {"root1"}})
	if err == nil || !strings.Contains(err.Error(), "schema check") {
		t.Fatalf("expected schema check error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not exist after a rejected write")
	}

	wrong := spoolDoc{SchemaHeader: SchemaHeader{SchemaVersion: CurrentSchemaVersion, FileType: "other"}}
	if err := AtomicWrite(path, FileTypeSpool, wrong); err == nil {
		t.Fatal("expected error for a foreign file type")
	}
}

func TestAtomicWrite_KeepsPreviousFileOnRejectedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unprocessed.yaml")

	first := spoolDoc{SchemaHeader: NewHeader(FileTypeSpool), Requests: []string{"a"}}
	if err := AtomicWrite(path, FileTypeSpool, first); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWrite(path, FileTypeSpool, map[string]int{"x": 1}); err == nil {
		t.Fatal("expected error")
	}

	if err := ValidateSchemaHeader(path, FileTypeSpool); err != nil {
		t.Errorf("current file damaged: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("a rejected write should not rotate the backup")
	}
}
