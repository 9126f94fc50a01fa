package tool

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"korah/internal/domain"
)

// FindFiles searches the local filesystem under compound criteria.
type FindFiles struct {
	logger *slog.Logger
}

func NewFindFiles(logger *slog.Logger) *FindFiles {
	return &FindFiles{logger: logger}
}

// FileMatch is one emitted file search record.
type FileMatch struct {
	Path string `json:"path"`
}

func (f *FindFiles) Name() string { return "find_files" }

func (f *FindFiles) Description() string {
	return "Find files, directories or symlinks on the local filesystem by name, content, type, size and timestamps."
}

func (f *FindFiles) Descriptor() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        f.Name(),
		Description: f.Description(),
		Params: []domain.ParamSpec{
			{Name: "root_dir", Kind: domain.KindPath, Description: "Directory to search under. A plain path or one of the aliases home, desktop, documents, downloads. Defaults to the home directory."},
			{Name: "name_pattern", Kind: domain.KindPattern, Description: "Glob like *.mkv or an RE2 regex, matched against the entry name."},
			{Name: "content_pattern", Kind: domain.KindRegex, Description: "RE2 regex matched against the contents of regular files."},
			{Name: "entry_type", Kind: domain.KindEnum, EnumValues: []string{"file", "dir", "symlink", "any"}, Description: "Kind of filesystem entry to match."},
			{Name: "size_min", Kind: domain.KindSize, Description: "Minimum size in bytes; humanized forms like 500MB are accepted."},
			{Name: "size_max", Kind: domain.KindSize, Description: "Maximum size in bytes; humanized forms like 500MB are accepted."},
			{Name: "mtime_min", Kind: domain.KindTime, Description: "Earliest modification time, ISO 8601 without timezone."},
			{Name: "mtime_max", Kind: domain.KindTime, Description: "Latest modification time, ISO 8601 without timezone."},
			{Name: "ctime_min", Kind: domain.KindTime, Description: "Earliest change time, ISO 8601 without timezone."},
			{Name: "ctime_max", Kind: domain.KindTime, Description: "Latest change time, ISO 8601 without timezone."},
		},
		Ranges: [][2]string{
			{"size_min", "size_max"},
			{"mtime_min", "mtime_max"},
			{"ctime_min", "ctime_max"},
		},
	}
}

type fileCriteria struct {
	root    string
	name    *NamePattern
	content *regexp.Regexp

	entryType string

	sizeMin, sizeMax       uint64
	hasSizeMin, hasSizeMax bool

	mtimeMin, mtimeMax time.Time
	ctimeMin, ctimeMax time.Time

	hasMtimeMin, hasMtimeMax bool
	hasCtimeMin, hasCtimeMax bool
}

func fileCriteriaFromArgs(args map[string]any) (*fileCriteria, error) {
	c := &fileCriteria{
		name:      argPattern(args, "name_pattern"),
		content:   argRegexp(args, "content_pattern"),
		entryType: "any",
	}
	if t, ok := argString(args, "entry_type"); ok {
		c.entryType = t
	}
	if root, ok := argString(args, "root_dir"); ok {
		c.root = root
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("no root_dir given and no home directory: %w", err)
		}
		c.root = home
	}
	c.sizeMin, c.hasSizeMin = argSize(args, "size_min")
	c.sizeMax, c.hasSizeMax = argSize(args, "size_max")
	c.mtimeMin, c.hasMtimeMin = argTime(args, "mtime_min")
	c.mtimeMax, c.hasMtimeMax = argTime(args, "mtime_max")
	c.ctimeMin, c.hasCtimeMin = argTime(args, "ctime_min")
	c.ctimeMax, c.hasCtimeMax = argTime(args, "ctime_max")
	return c, nil
}

func (c *fileCriteria) needsInfo() bool {
	return c.hasSizeMin || c.hasSizeMax ||
		c.hasMtimeMin || c.hasMtimeMax ||
		c.hasCtimeMin || c.hasCtimeMax
}

// Search validates args, checks the root is readable (fatal if not), and
// streams matches. Per-entry failures during the walk are skipped.
func (f *FindFiles) Search(ctx context.Context, args map[string]any) (<-chan any, error) {
	coerced, err := Coerce(f.Descriptor(), args)
	if err != nil {
		return nil, err
	}
	c, err := fileCriteriaFromArgs(coerced)
	if err != nil {
		return nil, err
	}

	if _, err := os.ReadDir(c.root); err != nil {
		return nil, fmt.Errorf("cannot read root directory: %w", err)
	}

	out := make(chan any, 64)
	go func() {
		defer close(out)
		f.walk(ctx, c, out)
	}()
	return out, nil
}

func (f *FindFiles) walk(ctx context.Context, c *fileCriteria, out chan<- any) {
	// WalkDir does not follow symlinks into directories, so cycles cannot
	// occur even when entry_type selects symlinks.
	filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if err != nil {
			f.logger.Warn("skipping unreadable entry", "path", path, "err", err)
			return nil
		}
		if path == c.root {
			return nil
		}
		if f.matches(c, path, d) {
			select {
			case out <- FileMatch{Path: path}:
			case <-ctx.Done():
				return fs.SkipAll
			}
		}
		return nil
	})
}

func (f *FindFiles) matches(c *fileCriteria, path string, d fs.DirEntry) bool {
	switch c.entryType {
	case "file":
		if !d.Type().IsRegular() {
			return false
		}
	case "dir":
		if !d.IsDir() {
			return false
		}
	case "symlink":
		if d.Type()&fs.ModeSymlink == 0 {
			return false
		}
	}

	if c.name != nil && !c.name.Match(d.Name()) {
		return false
	}

	if c.needsInfo() {
		info, err := d.Info()
		if err != nil {
			f.logger.Warn("skipping entry without metadata", "path", path, "err", err)
			return false
		}
		size := uint64(info.Size())
		if c.hasSizeMin && size < c.sizeMin {
			return false
		}
		if c.hasSizeMax && size > c.sizeMax {
			return false
		}
		mtime := info.ModTime()
		if c.hasMtimeMin && mtime.Before(c.mtimeMin) {
			return false
		}
		if c.hasMtimeMax && mtime.After(c.mtimeMax) {
			return false
		}
		if c.hasCtimeMin || c.hasCtimeMax {
			ctime, ok := fileCtime(info)
			if !ok {
				f.logger.Debug("no change time available", "path", path)
				return false
			}
			if c.hasCtimeMin && ctime.Before(c.ctimeMin) {
				return false
			}
			if c.hasCtimeMax && ctime.After(c.ctimeMax) {
				return false
			}
		}
	}

	if c.content != nil {
		if !d.Type().IsRegular() {
			return false
		}
		if !f.contentMatches(path, c.content) {
			return false
		}
	}

	return true
}

// contentMatches reports whether any line of the file matches re. Reading
// stops at the first match so large files are not fully scanned.
func (f *FindFiles) contentMatches(path string, re *regexp.Regexp) bool {
	file, err := os.Open(path)
	if err != nil {
		f.logger.Debug("cannot open file for content match", "path", path, "err", err)
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if re.Match(scanner.Bytes()) {
			return true
		}
	}
	if err := scanner.Err(); err != nil {
		f.logger.Debug("content scan aborted", "path", path, "err", err)
	}
	return false
}
