package archive

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/star/aprstrack/internal/telemetry"
)

const (
	filePrefix = "history_"
	fileSuffix = ".csv"
)

// Archive keeps full snapshots of the telemetry history as CSV files on disk.
// Every save rewrites the whole history into a new timestamped file.
type Archive struct {
	dir      string
	maxFiles int
	logger   *slog.Logger
}

// New creates an Archive that stores files in dir and keeps at most maxFiles.
func New(dir string, maxFiles int, logger *slog.Logger) *Archive {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Archive{
		dir:      dir,
		maxFiles: maxFiles,
		logger:   logger,
	}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Save writes records to a snapshot named after ts and prunes old snapshots.
// The file is written to a temporary name and renamed into place.
func (a *Archive) Save(records []telemetry.Record, ts time.Time) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	name := fmt.Sprintf("%s%d%s", filePrefix, ts.Unix(), fileSuffix)
	path := filepath.Join(a.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming archive file: %w", err)
	}

	return a.prune()
}

// LoadLatest reads the newest snapshot. It returns the records and the
// snapshot timestamp.
func (a *Archive) LoadLatest() ([]telemetry.Record, time.Time, error) {
	files, err := a.listFiles()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, fmt.Errorf("no archive files found in %s", a.dir)
	}

	latest := files[len(files)-1]
	f, err := os.Open(filepath.Join(a.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("opening archive file: %w", err)
	}
	defer f.Close()

	records, err := ReadCSV(f, a.logger)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading %s: %w", latest.name, err)
	}
	return records, latest.ts, nil
}

type archiveFile struct {
	name string
	ts   time.Time
}

// listFiles returns snapshot files sorted oldest first.
func (a *Archive) listFiles() ([]archiveFile, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archive dir: %w", err)
	}

	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		tsStr := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		unix, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})
	return files, nil
}

func (a *Archive) prune() error {
	files, err := a.listFiles()
	if err != nil {
		return err
	}
	if len(files) <= a.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-a.maxFiles] {
		if err := os.Remove(filepath.Join(a.dir, f.name)); err != nil {
			return fmt.Errorf("pruning archive file %s: %w", f.name, err)
		}
	}
	return nil
}
