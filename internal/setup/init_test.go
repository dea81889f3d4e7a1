package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/termcmd/internal/descriptor"
	"github.com/msageha/termcmd/internal/model"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	projectDir := filepath.Join(t.TempDir(), "myproject")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}

	base, err := Run(projectDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if base != filepath.Join(projectDir, DirName) {
		t.Errorf("base: got %q", base)
	}

	for _, d := range []string{"locks", "logs", "spool", "quarantine"} {
		info, err := os.Stat(filepath.Join(base, d))
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_WritesLoadableFiles(t *testing.T) {
	base, err := Run(t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg, err := model.LoadConfig(filepath.Join(base, "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Processor.ResponseEnabled {
		t.Error("template config should enable responses")
	}
	if cfg.Commands.Path != "commands.yaml" {
		t.Errorf("commands.path: got %q", cfg.Commands.Path)
	}

	store := descriptor.NewMemoryStore(nil)
	n, err := descriptor.LoadInto(store, filepath.Join(base, cfg.Commands.Path))
	if err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if n == 0 || store.Count() != n {
		t.Errorf("descriptors: loaded %d, stored %d", n, store.Count())
	}
	if _, ok := store.FindByID("config"); !ok {
		t.Error("expected the config root command")
	}
}

func TestRun_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	if _, err := Run(dir); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := Run(dir); err == nil {
		t.Fatal("expected error on second Run")
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	base, err := Run(dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if got := Find(nested); got != base {
		t.Errorf("Find(nested) = %q, want %q", got, base)
	}
	if got := Find(t.TempDir()); got != "" {
		t.Errorf("Find(empty) = %q, want empty", got)
	}
}
