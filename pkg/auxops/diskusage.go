package auxops

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileEntry is a single file's contribution to a disk-usage report.
type FileEntry struct {
	Path string
	Size int64
}

// SubdirEntry is a single immediate subdirectory's recursive size
// contribution to a disk-usage report.
type SubdirEntry struct {
	Path string
	Size int64
}

// DiskUsage is the result of analyzing a directory tree.
type DiskUsage struct {
	TotalBytes int64
	FileCount  int
	TopFiles   []FileEntry
	TopSubdirs []SubdirEntry
	// ByExtension is populated only when requested, mapping a lowercased
	// extension (including the leading dot, or "" for extensionless files)
	// to its cumulative byte total.
	ByExtension map[string]int64
}

// DiskUsageOptions configures an AnalyzeDiskUsage call.
type DiskUsageOptions struct {
	// MaxDepth bounds the walk depth relative to root; 0 means unbounded.
	MaxDepth int
	// Histogram requests the by-extension byte histogram.
	Histogram bool
}

// AnalyzeDiskUsage walks root to the configured depth, accumulating total
// size, file count, the ten largest files, the ten largest immediate
// subdirectories by recursive size, and optionally a by-extension
// histogram. Entries that fail re-validation mid-walk (e.g. concurrent
// deletion) are skipped rather than aborting the walk. A symlink
// contributes its own link size, not the size of whatever it points to.
func AnalyzeDiskUsage(root string, opts DiskUsageOptions) (DiskUsage, error) {
	var usage DiskUsage
	if opts.Histogram {
		usage.ByExtension = make(map[string]int64)
	}

	subdirSizes := make(map[string]int64)
	var files []FileEntry

	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}

		if opts.MaxDepth > 0 {
			depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
			if depth > opts.MaxDepth {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if info.IsDir() {
			return nil
		}

		// Re-validate immediately before accounting for it, so that entries
		// concurrently removed between the directory listing and this point
		// are skipped rather than producing a stale size.
		current, statErr := os.Lstat(path)
		if statErr != nil {
			return nil
		}

		size := current.Size()
		usage.TotalBytes += size
		usage.FileCount++
		files = append(files, FileEntry{Path: path, Size: size})

		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			if parts := strings.SplitN(filepath.ToSlash(rel), "/", 2); len(parts) > 1 {
				top := filepath.Join(root, parts[0])
				subdirSizes[top] += size
			}
		}

		if opts.Histogram {
			ext := strings.ToLower(filepath.Ext(path))
			usage.ByExtension[ext] += size
		}

		return nil
	})
	if err != nil {
		return DiskUsage{}, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Size > files[j].Size })
	if len(files) > 10 {
		files = files[:10]
	}
	usage.TopFiles = files

	var subdirs []SubdirEntry
	for path, size := range subdirSizes {
		subdirs = append(subdirs, SubdirEntry{Path: path, Size: size})
	}
	sort.Slice(subdirs, func(i, j int) bool { return subdirs[i].Size > subdirs[j].Size })
	if len(subdirs) > 10 {
		subdirs = subdirs[:10]
	}
	usage.TopSubdirs = subdirs

	return usage, nil
}
