package archive

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// ImportDir copies the host directory dir into sink below dest. Symlinks
// are not followed; files larger than MaxFileSize and names that are not
// valid path elements are skipped.
func ImportDir(ctx context.Context, dir string, sink Sink, dest path.Path) (Summary, error) {
	var (
		mu    sync.Mutex
		sum   Summary
		dirs  []string
		files []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || p == dir {
			return nil
		}

		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case d.IsDir():
			dirs = append(dirs, rel)
		case d.Type().IsRegular():
			files = append(files, rel)
		default:
			sum.Skipped++
		}
		return nil
	})
	if err != nil {
		return sum, err
	}

	// fastwalk visits concurrently; apply in lexical order so parents exist
	sort.Strings(dirs)
	sort.Strings(files)

	for _, rel := range dirs {
		p, ok := entryPath(dest, rel)
		if !ok {
			sum.Skipped++
			continue
		}
		if err := sink.MkdirAll(ctx, p); err != nil {
			return sum, err
		}
		sum.Dirs++
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		p, ok := entryPath(dest, rel)
		if !ok {
			sum.Skipped++
			continue
		}
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil || info.Size() > MaxFileSize {
			sum.Skipped++
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			sum.Skipped++
			continue
		}
		if err := sink.WriteFile(p, data); err != nil {
			// parent directory was skipped
			sum.Skipped++
			continue
		}
		sum.Files++
		sum.Bytes += int64(len(data))
	}
	return sum, nil
}

func sortedNames(entries map[string]*vfs.StatResult) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
