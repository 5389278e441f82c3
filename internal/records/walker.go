package records

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// FileInfo describes a record file found by the walker.
type FileInfo struct {
	Path    string    // Absolute path to the file
	RelPath string    // Path relative to the walk root
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Hash    string    // xxhash of file contents
}

// WalkOptions configures the record file walker.
type WalkOptions struct {
	// Root is a record file or a directory to search for record files.
	Root string

	// MaxFileSize is the maximum file size to load (in bytes).
	MaxFileSize int64

	// IgnorePatterns are patterns to skip (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool
}

// WalkStats contains statistics from a walk.
type WalkStats struct {
	FilesFound   int   // Record files found
	FilesSkipped int   // Files skipped due to size, pattern or extension
	DirsSkipped  int   // Directories skipped
	TotalBytes   int64 // Total bytes of files found
}

// Walker finds JSON record files under a root.
type Walker struct {
	opts    WalkOptions
	ignorer *gitignore.GitIgnore
	single  bool
	stats   WalkStats
}

// NewWalker creates a walker. Root must exist.
func NewWalker(opts WalkOptions) (*Walker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("data path does not exist: %w", err)
	}

	return &Walker{
		opts:    opts,
		ignorer: gitignore.CompileIgnoreLines(opts.IgnorePatterns...),
		single:  !info.IsDir(),
	}, nil
}

// Walk calls fn for each record file in lexical path order.
// The walk stops if fn returns an error.
func (w *Walker) Walk(fn func(FileInfo) error) error {
	w.stats = WalkStats{}

	if w.single {
		// An explicitly named file is loaded regardless of extension or patterns
		info, err := os.Stat(w.opts.Root)
		if err != nil {
			return err
		}
		return w.visit(w.opts.Root, filepath.Base(w.opts.Root), info, fn)
	}

	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}

		relPath, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			relPath = path
		}

		if d.IsDir() {
			if path != w.opts.Root && w.shouldSkipDir(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if !IsRecordFile(path) || w.shouldSkipFile(d.Name(), relPath) {
			w.stats.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", path, "error", err)
			return nil
		}

		return w.visit(path, relPath, info, fn)
	})
}

func (w *Walker) visit(path, relPath string, info os.FileInfo, fn func(FileInfo) error) error {
	if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
		log.Warn("Skipping oversized record file", "path", relPath, "size", info.Size())
		w.stats.FilesSkipped++
		return nil
	}

	hash, err := HashFile(path)
	if err != nil {
		log.Debug("Failed to hash file", "path", path, "error", err)
		return nil
	}

	w.stats.FilesFound++
	w.stats.TotalBytes += info.Size()

	return fn(FileInfo{
		Path:    path,
		RelPath: relPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Hash:    hash,
	})
}

// Stats returns the statistics of the last walk.
func (w *Walker) Stats() WalkStats {
	return w.stats
}

func (w *Walker) shouldSkipDir(name, relPath string) bool {
	if name == ".git" {
		return true
	}
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath + "/")
}

func (w *Walker) shouldSkipFile(name, relPath string) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath)
}

// IsRecordFile reports whether path names a JSON file.
func IsRecordFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// HashFile computes the xxhash of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashContent computes the xxhash of content bytes.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}
