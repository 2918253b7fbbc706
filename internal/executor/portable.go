package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	shellquote "github.com/kballard/go-shellquote"
)

// PortablePrefix marks a command string handled by OS-independent built-ins
// instead of an external shell.
const PortablePrefix = "p:"

// IsPortable reports whether the command routes to a built-in handler.
// Dispatch is by prefix match; the command is otherwise opaque to callers.
func IsPortable(command string) bool {
	return strings.HasPrefix(strings.TrimSpace(command), PortablePrefix)
}

// RunPortable parses and dispatches a portable built-in. Paths are resolved
// relative to dir. Output (ls, cat) goes to stdout.
func RunPortable(command, dir string, stdout io.Writer) error {
	args, err := shellquote.Split(strings.TrimSpace(command))
	if err != nil {
		return fmt.Errorf("parsing portable command arguments: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	op, rest := args[0], expandGlobArgs(dir, args[1:])
	switch op {
	case "p:rm":
		return portableRm(dir, rest)
	case "p:mkdir":
		return portableMkdir(dir, rest)
	case "p:cp":
		return portableCp(dir, rest)
	case "p:mv":
		return portableMv(dir, rest)
	case "p:ls":
		return portableLs(dir, rest, stdout)
	case "p:cat":
		return portableCat(dir, rest, stdout)
	default:
		return fmt.Errorf("unknown portable command %q", op)
	}
}

// expandGlobArgs expands glob characters in non-flag arguments, sorted for
// determinism. An argument matching nothing is kept verbatim, mirroring
// shell behavior.
func expandGlobArgs(dir string, args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") || !strings.ContainsAny(arg, "*?[") {
			out = append(out, arg)
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(dir), arg)
		if err != nil || len(matches) == 0 {
			out = append(out, arg)
			continue
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out
}

// splitFlags separates leading-dash arguments from paths and reports
// whether recursive (-r/-R) or force (-f) appeared.
func splitFlags(args []string) (recursive, force bool, paths []string) {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			if strings.ContainsAny(arg, "rR") {
				recursive = true
			}
			if strings.Contains(arg, "f") {
				force = true
			}
			continue
		}
		paths = append(paths, arg)
	}
	return recursive, force, paths
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func portableRm(dir string, args []string) error {
	recursive, force, paths := splitFlags(args)
	for _, p := range paths {
		full := resolve(dir, p)
		info, err := os.Stat(full)
		if err != nil {
			if force {
				continue
			}
			return fmt.Errorf("rm: %s: no such file or directory", p)
		}
		if info.IsDir() {
			if !recursive {
				return fmt.Errorf("rm: cannot remove directory %q without -r", p)
			}
			if err := os.RemoveAll(full); err != nil {
				return fmt.Errorf("rm: removing directory %s: %w", p, err)
			}
			continue
		}
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("rm: removing %s: %w", p, err)
		}
	}
	return nil
}

func portableMkdir(dir string, args []string) error {
	_, _, paths := splitFlags(args)
	if len(paths) == 0 {
		return fmt.Errorf("mkdir: missing operand")
	}
	for _, p := range paths {
		if err := os.MkdirAll(resolve(dir, p), 0o755); err != nil {
			return fmt.Errorf("mkdir: creating %s: %w", p, err)
		}
	}
	return nil
}

func portableCp(dir string, args []string) error {
	recursive, _, paths := splitFlags(args)
	if len(paths) < 2 {
		return fmt.Errorf("cp: requires at least source and destination")
	}
	dest := resolve(dir, paths[len(paths)-1])
	sources := paths[:len(paths)-1]

	destInfo, err := os.Stat(dest)
	destIsDir := err == nil && destInfo.IsDir()
	if len(sources) > 1 && !destIsDir {
		return fmt.Errorf("cp: target %q is not a directory", paths[len(paths)-1])
	}

	for _, src := range sources {
		full := resolve(dir, src)
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("cp: source not found: %s", src)
		}

		target := dest
		if destIsDir {
			target = filepath.Join(dest, filepath.Base(full))
		}

		if info.IsDir() {
			if !recursive {
				return fmt.Errorf("cp: omitting directory %q (use -r to copy)", src)
			}
			if err := copyDirRecursive(full, target); err != nil {
				return fmt.Errorf("cp: copying directory %s: %w", src, err)
			}
			continue
		}
		if err := copyFile(full, target); err != nil {
			return fmt.Errorf("cp: copying %s: %w", src, err)
		}
	}
	return nil
}

func portableMv(dir string, args []string) error {
	_, _, paths := splitFlags(args)
	if len(paths) < 2 {
		return fmt.Errorf("mv: requires source and destination")
	}
	dest := resolve(dir, paths[len(paths)-1])
	sources := paths[:len(paths)-1]

	destInfo, err := os.Stat(dest)
	destIsDir := err == nil && destInfo.IsDir()
	if len(sources) > 1 && !destIsDir {
		return fmt.Errorf("mv: target %q is not a directory", paths[len(paths)-1])
	}

	for _, src := range sources {
		full := resolve(dir, src)
		if _, err := os.Stat(full); err != nil {
			return fmt.Errorf("mv: source not found: %s", src)
		}
		target := dest
		if destIsDir {
			target = filepath.Join(dest, filepath.Base(full))
		}
		if err := os.Rename(full, target); err != nil {
			return fmt.Errorf("mv: moving %s: %w", src, err)
		}
	}
	return nil
}

func portableLs(dir string, args []string, stdout io.Writer) error {
	target := dir
	if _, _, paths := splitFlags(args); len(paths) > 0 {
		target = resolve(dir, paths[0])
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return fmt.Errorf("ls: reading directory: %w", err)
	}
	for _, entry := range entries {
		fmt.Fprintln(stdout, entry.Name())
	}
	return nil
}

func portableCat(dir string, args []string, stdout io.Writer) error {
	_, _, paths := splitFlags(args)
	if len(paths) == 0 {
		return fmt.Errorf("cat: missing operand")
	}
	for _, p := range paths {
		full := resolve(dir, p)
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("cat: %s: no such file", p)
		}
		if info.IsDir() {
			return fmt.Errorf("cat: %s: is a directory", p)
		}
		f, err := os.Open(full)
		if err != nil {
			return fmt.Errorf("cat: opening %s: %w", p, err)
		}
		_, copyErr := io.Copy(stdout, f)
		f.Close() //nolint:errcheck
		if copyErr != nil {
			return fmt.Errorf("cat: reading %s: %w", p, copyErr)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck
		return err
	}
	return out.Close()
}

func copyDirRecursive(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDirRecursive(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}
