package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/yaml"
)

// spoolFile holds the requests that were still queued at shutdown.
type spoolFile struct {
	yaml.SchemaHeader `yaml:",inline"`
	SavedAt           string          `yaml:"saved_at"`
	Requests          []model.Request `yaml:"requests"`
}

func (d *Daemon) spoolPath() string {
	return filepath.Join(d.workDir, "spool", "unprocessed.yaml")
}

// writeSpool saves requests for the next start. Nothing is written when
// requests is empty.
func (d *Daemon) writeSpool(requests []model.Request) error {
	if len(requests) == 0 {
		return nil
	}
	f := spoolFile{
		SchemaHeader: yaml.NewHeader(yaml.FileTypeSpool),
		SavedAt:      time.Now().UTC().Format(time.RFC3339),
		Requests:     requests,
	}
	if err := yaml.AtomicWrite(d.spoolPath(), yaml.FileTypeSpool, f); err != nil {
		return err
	}
	d.logger.Infof("unprocessed requests spooled path=%s count=%d", d.spoolPath(), len(requests))
	return nil
}

// readSpool loads the spool file, quarantining it when it is corrupt. A
// missing file yields no requests.
func (d *Daemon) readSpool() ([]model.Request, error) {
	path := d.spoolPath()
	ok, err := yaml.Recover(d.workDir, path, yaml.FileTypeSpool, d.logger)
	if err != nil || !ok {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}
	var f spoolFile
	if err := yamlv3.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse spool: %w", err)
	}
	return f.Requests, nil
}

// replaySpool queues the spooled requests again and removes the spool file.
func (d *Daemon) replaySpool() error {
	requests, err := d.readSpool()
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return nil
	}
	n, err := d.processor.Requeue(requests)
	if err != nil {
		return err
	}
	if err := os.Remove(d.spoolPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spool: %w", err)
	}
	d.logger.Infof("spooled requests replayed count=%d envelopes=%d", len(requests), n)
	return nil
}
