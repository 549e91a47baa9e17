package fetch

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// Filter decides which entries Enumerate keeps.
type Filter struct {
	// Extensions lists allowed file extensions including the dot, e.g. ".go".
	Extensions []string
	// IgnoreDirs lists directory names that are never descended into.
	IgnoreDirs []string
	// MaxFileBytes skips larger files when positive.
	MaxFileBytes int64
}

var (
	DefaultExtensions = []string{".ts", ".js", ".jsx", ".tsx", ".py", ".java", ".go", ".rs", ".md"}
	DefaultIgnoreDirs = []string{"node_modules", "dist", "build", "vendor", "target", "out", "bin", "__pycache__", "venv", "coverage"}
)

const DefaultMaxFileBytes = 1 << 20

func DefaultFilter() Filter {
	return Filter{
		Extensions:   append([]string(nil), DefaultExtensions...),
		IgnoreDirs:   append([]string(nil), DefaultIgnoreDirs...),
		MaxFileBytes: DefaultMaxFileBytes,
	}
}

// Enumerate walks root depth-first with an explicit stack and returns the
// slash-separated paths, relative to root, of every file the filter keeps.
// Entries named with a leading "." are skipped, as is anything that is not a
// regular file or directory. Siblings are visited in name order, so the
// result is stable for a given tree.
func Enumerate(root string, f Filter) ([]string, error) {
	exts := make(map[string]struct{}, len(f.Extensions))
	for _, e := range f.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	ignored := make(map[string]struct{}, len(f.IgnoreDirs))
	for _, d := range f.IgnoreDirs {
		ignored[d] = struct{}{}
	}

	type entry struct {
		rel string
		dir bool
	}

	var (
		files   []string
		scratch = make([]byte, godirwalk.MinimumScratchBufferSize)
		stack   = []entry{{rel: "", dir: true}}
	)
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		abs := filepath.Join(root, filepath.FromSlash(e.rel))
		if !e.dir {
			if f.MaxFileBytes > 0 {
				fi, err := os.Stat(abs)
				if err != nil {
					return nil, fmt.Errorf("stat %s: %w", e.rel, err)
				}
				if fi.Size() > f.MaxFileBytes {
					log.Debug().Str("path", e.rel).Int64("bytes", fi.Size()).Msg("skipping large file")
					continue
				}
			}
			files = append(files, e.rel)
			continue
		}

		children, err := godirwalk.ReadDirents(abs, scratch)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", abs, err)
		}
		sort.Sort(children)

		// Push in reverse so the smallest name is popped first.
		for i := len(children) - 1; i >= 0; i-- {
			de := children[i]
			name := de.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			rel := path.Join(e.rel, name)
			switch {
			case de.IsDir():
				if _, skip := ignored[name]; skip {
					continue
				}
				stack = append(stack, entry{rel: rel, dir: true})
			case de.IsRegular():
				if _, ok := exts[strings.ToLower(path.Ext(name))]; !ok {
					continue
				}
				stack = append(stack, entry{rel: rel})
			}
		}
	}
	return files, nil
}
