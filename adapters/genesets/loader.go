package genesets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
)

// Loader expands collection patterns and parses the matching files.
type Loader struct {
	cache  *BoltCache
	logger *log.Logger
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(cache *BoltCache, logger *log.Logger) *Loader {
	return &Loader{cache: cache, logger: logging.Component(logger, "GeneSets")}
}

// Load reads every file matching the doublestar patterns (e.g. "sets/**/*.gmt") and
// merges them into one collection in sorted path order. Later duplicates of a set
// name are dropped with a warning.
func (l *Loader) Load(patterns []string) (*genesets.Collection, error) {
	paths, err := expand(patterns)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("no gene set files match %s", strings.Join(patterns, ", ")))
	}

	merged := &genesets.Collection{Source: strings.Join(paths, ",")}
	for _, path := range paths {
		c, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if dups := merged.Merge(c); len(dups) > 0 {
			l.logger.Warn("duplicate gene set names skipped", "file", path, "sets", len(dups), "first", dups[0])
		}
	}
	l.logger.Info("gene set collections loaded", "files", len(paths), "sets", merged.Len())
	return merged, nil
}

// LoadFile parses one collection, consulting the cache first when configured.
func (l *Loader) LoadFile(path string) (*genesets.Collection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("gene set file %s: %w", path, err))
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())

	if l.cache != nil {
		if c, err := l.cache.Get(key); err != nil {
			l.logger.Warn("cache read failed", "file", path, "error", err)
		} else if c != nil {
			l.logger.Debug("cache hit", "file", path, "sets", c.Len())
			return c, nil
		}
	}

	c, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.Put(key, c); err != nil {
			l.logger.Warn("cache write failed", "file", path, "error", err)
		}
	}
	l.logger.Debug("collection parsed", "file", path, "sets", c.Len())
	return c, nil
}

func parseFile(path string) (*genesets.Collection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
		return ParseJSON(data, path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
		defer f.Close()
		return ParseGMT(f, path)
	}
}

func expand(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("bad gene set pattern %q: %w", pattern, err))
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
