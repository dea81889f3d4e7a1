package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateSchemaHeader(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		wantErr  string
	}{
		{"valid", "schema_version: 1\nfile_type: spool_unprocessed\n", FileTypeSpool, ""},
		{"any type", "schema_version: 1\nfile_type: spool_unprocessed\n", "", ""},
		{"future version", "schema_version: 2\nfile_type: spool_unprocessed\n", "", "unsupported schema_version"},
		{"negative version", "schema_version: -1\nfile_type: spool_unprocessed\n", "", "invalid schema_version"},
		{"missing version", "file_type: spool_unprocessed\n", "", "invalid schema_version"},
		{"missing type", "schema_version: 1\n", "", "missing file_type"},
		{"unknown type", "schema_version: 1\nfile_type: bogus\n", "", "unknown file_type"},
		{"not yaml", "schema_version: [\n", "", "parse yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchemaHeaderFromBytes([]byte(tt.content), tt.expected)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSchemaHeader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.yaml")
	os.WriteFile(path, []byte("schema_version: 1\nfile_type: spool_unprocessed\n"), 0644)
	if err := ValidateSchemaHeader(path, FileTypeSpool); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSchemaHeader(filepath.Join(t.TempDir(), "missing.yaml"), FileTypeSpool); err == nil {
		t.Fatal("expected error for missing file")
	}
}
