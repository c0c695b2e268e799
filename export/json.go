package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/market"
)

// jsonDocument is the on-disk shape of one exported report
type jsonDocument struct {
	ExportedAt time.Time `json:"exported_at"`
	market.Report
}

// JSONExporter writes one file per symbol and report day, so a rerun of the
// same day overwrites its file.
type JSONExporter struct {
	dir string
	now func() time.Time
}

// NewJSONExporter creates dir when missing
func NewJSONExporter(dir string, now func() time.Time) (*JSONExporter, error) {
	if dir == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "export.json_path is empty")
	}
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "create export directory %s", dir)
	}
	return &JSONExporter{dir: dir, now: now}, nil
}

// Name implements Exporter
func (e *JSONExporter) Name() string { return am.SinkJSON }

// Path returns the file a report is written to
func (e *JSONExporter) Path(r market.Report) string {
	return filepath.Join(e.dir, r.Symbol+"_"+r.ReportDate.UTC().Format("20060102")+".json")
}

// Export implements Exporter
func (e *JSONExporter) Export(ctx context.Context, reports []market.Report) error {
	exportedAt := e.now().UTC()
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.MarshalIndent(jsonDocument{ExportedAt: exportedAt, Report: r}, "", "  ")
		if err != nil {
			return errors.Wrapf(err, "encode report %s", r.Symbol)
		}
		if err := writeFileAtomic(e.Path(r), data); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic replaces path so readers never see a partial file
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if err := os.Chmod(tmp.Name(), am.DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "rename into %s", path)
}
