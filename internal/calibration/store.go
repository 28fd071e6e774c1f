package calibration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const fileVersion = 1

// fileFormat is the on-disk layout of the calibration store.
type fileFormat struct {
	Version int                `json:"version"`
	SavedAt string             `json:"saved_at"`
	Values  map[string]float64 `json:"values"`
}

// FileStore persists a Set as JSON.
type FileStore struct {
	path string
	log  *zap.SugaredLogger
}

func NewFileStore(path string, log *zap.SugaredLogger) *FileStore {
	return &FileStore{path: path, log: log}
}

func (fs *FileStore) Path() string { return fs.path }

// LoadAll restores every known parameter from the file. A missing file keeps
// the defaults. Unknown names are logged and skipped.
func (fs *FileStore) LoadAll(set *Set) error {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		fs.log.Warnf("calibration file %s not found, using defaults", fs.path)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read calibration file")
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return errors.Wrap(err, "parse calibration file")
	}
	if f.Version != fileVersion {
		return errors.Errorf("calibration file version %d not supported", f.Version)
	}

	restored := 0
	for name, v := range f.Values {
		p, ok := set.Lookup(name)
		if !ok {
			fs.log.Warnf("calibration file has unknown parameter %q, ignoring", name)
			continue
		}
		p.Restore(v)
		restored++
	}
	fs.log.Infof("restored %d calibration values from %s", restored, fs.path)
	return nil
}

// SaveAll writes every parameter of set. The file is replaced atomically.
func (fs *FileStore) SaveAll(set *Set) error {
	f := fileFormat{
		Version: fileVersion,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
		Values:  make(map[string]float64),
	}
	for _, p := range set.All() {
		f.Values[p.Name()] = p.Get()
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal calibration")
	}

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return errors.Wrap(err, "create calibration dir")
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write calibration file")
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return errors.Wrap(err, "replace calibration file")
	}
	return nil
}
