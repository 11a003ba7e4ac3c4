package vfs

import (
	"context"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
)

// Glob expands a "root:/a/*/b" pattern against fs using List. Patterns follow
// doublestar syntax, so "**" matches any number of directories.
func Glob(ctx context.Context, fs FileSystem, pattern string) ([]path.Path, error) {
	root, rel, ok := strings.Cut(pattern, ":")
	if !ok {
		return nil, fserr.Invalid("pattern", pattern)
	}
	if root != fs.RootPath().Root() {
		return nil, fserr.Incompatible("root", root, fs.RootPath().Root())
	}

	rel = strings.Trim(rel, "/")
	if rel == "" || !doublestar.ValidatePattern(rel) {
		return nil, fserr.Invalid("pattern", pattern)
	}

	base, _ := doublestar.SplitPattern(rel)
	start := fs.RootPath()
	if base != "." {
		start = start.Combine(base)
		if !start.IsValid() {
			return nil, fserr.Invalid("pattern", pattern)
		}
	}

	maxDepth := -1
	if !strings.Contains(rel, "**") {
		maxDepth = strings.Count(rel, "/") + 1
	}

	var matches []path.Path
	var walk func(dir path.Path) error
	walk = func(dir path.Path) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := fs.List(ctx, dir)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			child := dir.Combine(name)
			childRel := strings.Join(child.Elements(), "/")
			if doublestar.MatchUnvalidated(rel, childRel) {
				matches = append(matches, child)
			}
			if entries[name].IsDir() && (maxDepth < 0 || child.Len() < maxDepth) {
				if err := walk(child); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(start); err != nil {
		if fserr.Is(err, fserr.KindNotFound) && base != "." {
			return nil, nil
		}
		return nil, err
	}
	return matches, nil
}
