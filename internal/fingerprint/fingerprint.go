// Package fingerprint decides whether a task's side effects are already up
// to date. A task's fingerprint is a BLAKE3 digest over its declared source
// files, the whole resolved environment, and the command text selected for
// the current OS; freshness additionally requires every recorded output
// path to still exist on disk. The cache is a performance optimization,
// never a correctness source of truth.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"

	"github.com/stride-run/stride/internal/config"
)

// Compute returns the hex digest for a task given the project directory,
// the resolved environment, and the OS-selected command list.
//
// Digest construction, in order:
//  1. every file matching the sources globs, lexically sorted, hashed as
//     (relative path, content) pairs;
//  2. every resolved environment variable as (name, value) pairs, sorted
//     by name;
//  3. the exact command texts in declared order.
//
// Every component is length-prefixed so "ab"+"c" and "a"+"bc" can never
// collide. A glob matching zero files contributes nothing; the digest still
// covers the environment and command text.
func Compute(dir string, task config.Task, env *config.ResolvedEnvironment, commands []string) (string, error) {
	h := blake3.New()

	paths, err := expandGlobs(dir, task.Sources)
	if err != nil {
		return "", fmt.Errorf("enumerating sources for task %q: %w", task.Name, err)
	}
	for _, p := range paths {
		content, err := os.ReadFile(filepath.Join(dir, p))
		if err != nil {
			return "", fmt.Errorf("reading source %s for task %q: %w", p, task.Name, err)
		}
		writeComponent(h, []byte(p))
		writeComponent(h, content)
	}

	for _, name := range env.Names() {
		writeComponent(h, []byte(name))
		writeComponent(h, []byte(env.Get(name)))
	}

	for _, cmd := range commands {
		writeComponent(h, []byte(cmd))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// OutputPaths expands the task's outputs globs relative to dir and returns
// the matched paths, lexically sorted. These are recorded alongside the
// digest; freshness later requires all of them to still exist.
func OutputPaths(dir string, task config.Task) ([]string, error) {
	paths, err := expandGlobs(dir, task.Outputs)
	if err != nil {
		return nil, fmt.Errorf("enumerating outputs for task %q: %w", task.Name, err)
	}
	return paths, nil
}

// IsFresh reports whether a task may be skipped: the stored digest must
// equal the newly computed one and every recorded output path must exist.
// A record with no output paths is never fresh; an outputs glob that
// matched nothing at record time means the task produced nothing provable.
func IsFresh(entry Entry, digest string, dir string) bool {
	if entry.Digest == "" || entry.Digest != digest {
		return false
	}
	if len(entry.Outputs) == 0 {
		return false
	}
	for _, p := range entry.Outputs {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			return false
		}
	}
	return true
}

// expandGlobs matches patterns under dir and returns relative file paths,
// deduplicated and lexically sorted for determinism irrespective of
// filesystem enumeration order.
func expandGlobs(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(os.DirFS(dir), pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(filepath.Join(dir, m))
			if err != nil || info.IsDir() {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// writeComponent writes one length-prefixed component into the hasher.
func writeComponent(h *blake3.Hasher, data []byte) {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(data)))
	_, _ = h.Write(prefix[:])
	_, _ = h.Write(data)
}
