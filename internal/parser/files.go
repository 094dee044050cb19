package parser

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zhaobenny/cptop/internal/model"
)

// LogPattern matches Copilot CLI process logs
const LogPattern = "process-*.log"

// DefaultLogDir returns ~/.copilot/logs
func DefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".copilot", "logs"), nil
}

// FindLogFiles finds all process logs under dir, sorted by path.
// A missing directory yields no files.
func FindLogFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(LogPattern, d.Name()); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// SourceName identifies a log by its slash-separated path relative to dir,
// so same-named logs in different subdirectories stay distinct.
func SourceName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// ParseFile parses a log file from the cursor onward. source names the file
// in the extracted source locations.
func ParseFile(path, source string, c Cursor, opts Options) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, &model.FileReadError{Path: path, Err: err}
	}
	defer file.Close()

	if c.Offset > 0 {
		if _, err := file.Seek(c.Offset, io.SeekStart); err != nil {
			return Result{}, &model.FileReadError{Path: path, Err: err}
		}
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return Result{}, &model.FileReadError{Path: path, Err: err}
	}

	return Extract(source, data, c, opts), nil
}

// ParseAllFiles parses every log under dir from the start. Unreadable files
// are returned alongside the results of the readable ones.
func ParseAllFiles(dir string) (Result, error) {
	files, err := FindLogFiles(dir)
	if err != nil {
		return Result{}, err
	}

	var (
		all  Result
		errs []error
	)
	for _, file := range files {
		res, err := ParseFile(file, SourceName(dir, file), Cursor{}, Options{Final: true})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all.Events = append(all.Events, res.Events...)
		all.Hints = append(all.Hints, res.Hints...)
		all.Failures = append(all.Failures, res.Failures...)
	}

	return all, errors.Join(errs...)
}
