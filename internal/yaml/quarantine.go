package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/termcmd/internal/logging"
)

// QuarantineDir is the directory, relative to the workspace, that receives
// corrupt files.
const QuarantineDir = "quarantine"

// Quarantine moves filePath into <workDir>/quarantine with a timestamped
// ".corrupt" name and returns the new path.
func Quarantine(workDir, filePath string) (string, error) {
	dir := filepath.Join(workDir, QuarantineDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405.000"))
	dst := filepath.Join(dir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup replaces filePath with filePath + ".bak" if the backup
// passes the schema check for fileType.
func RestoreFromBackup(filePath, fileType string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	if err := replace(filePath, content); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// Recover checks filePath against fileType. A corrupt file is quarantined
// and replaced by its backup when one is usable; otherwise the file is left
// absent. It reports whether the file at filePath can now be read.
func Recover(workDir, filePath, fileType string, logger *logging.Logger) (bool, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return false, nil
	}
	verr := ValidateSchemaHeader(filePath, fileType)
	if verr == nil {
		return true, nil
	}

	dst, err := Quarantine(workDir, filePath)
	if err != nil {
		return false, fmt.Errorf("quarantine %s: %w", filePath, err)
	}
	logger.Warnf("quarantined corrupt file path=%s to=%s reason=%v", filePath, dst, verr)

	if err := RestoreFromBackup(filePath, fileType); err != nil {
		logger.Warnf("backup restore failed path=%s error=%v", filePath, err)
		return false, nil
	}
	logger.Infof("restored from backup path=%s", filePath)
	return true, nil
}
