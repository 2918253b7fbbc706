package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ProfileEnvVar selects the .env profile: when set to "prod", Stride loads
// .env.prod instead of .env.
const ProfileEnvVar = "STRIDE_ENV"

// extensionPattern matches extension documents next to the base config.
// Extensions are merged over the base in alphabetical filename order.
const extensionPattern = "stride.*.toml"

// EnvDecl records one [env] declaration in merge order, before dynamic
// resolution. Raw holds the unresolved value text, which may be a
// $(command) substitution.
type EnvDecl struct {
	Name   string
	Raw    string
	Source Provenance
	Origin string
}

// Loaded is the result of Load: the merged configuration plus everything
// the resolver needs that TOML decoding alone cannot provide (declaration
// order, provenance, file locations).
type Loaded struct {
	Config *Config

	// EnvDecls holds [env] and .env declarations in layer-then-declaration
	// order. A re-declared name keeps its first position; later layers only
	// overwrite its value and provenance.
	EnvDecls []EnvDecl

	// Dir is the directory containing the base config file.
	Dir string

	// Path is the absolute path of the base config file.
	Path string

	// Extensions lists merged extension file paths in merge order.
	Extensions []string

	// DotenvFile is the .env file that was layered, if any.
	DotenvFile string
}

// FindConfigFile walks up from the given directory to find stride.toml.
// Returns the absolute path to the config file, or an empty string if not
// found. Stops at the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root.
			return "", nil
		}
		dir = parent
	}
}

// Load discovers and merges the full configuration for the project owning
// startDir: base stride.toml, then extension files in alphabetical order,
// then the .env layer. Task names from later layers override earlier ones;
// they are overrides, not duplicates.
func Load(startDir string) (*Loaded, error) {
	path, err := FindConfigFile(startDir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrNoConfigFile
	}
	return LoadFile(path)
}

// LoadFile merges the configuration rooted at the given stride.toml path.
func LoadFile(path string) (*Loaded, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	dir := filepath.Dir(abs)

	loaded := &Loaded{
		Config: &Config{
			Env:   make(map[string]string),
			Tasks: make(map[string]Task),
		},
		Dir:  dir,
		Path: abs,
	}

	if err := loaded.mergeFile(abs, ProvenanceConfig); err != nil {
		return nil, err
	}

	exts, err := findExtensions(dir)
	if err != nil {
		return nil, err
	}
	for _, ext := range exts {
		if err := loaded.mergeFile(ext, ProvenanceExtension); err != nil {
			return nil, err
		}
		loaded.Extensions = append(loaded.Extensions, ext)
	}

	if err := loaded.mergeDotenv(); err != nil {
		return nil, err
	}

	// Stamp task names now that the merge is final.
	for name, t := range loaded.Config.Tasks {
		t.Name = name
		loaded.Config.Tasks[name] = t
	}

	return loaded, nil
}

// findExtensions returns extension file paths in alphabetical order.
// The base stride.toml never matches extensionPattern.
func findExtensions(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, extensionPattern))
	if err != nil {
		return nil, fmt.Errorf("%w: listing extensions: %v", ErrConfig, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// mergeFile decodes one TOML document and merges it into the accumulated
// configuration. Env declaration order is recovered from TOML metadata so
// dynamic resolution can honor it.
func (l *Loaded) mergeFile(path string, source Provenance) error {
	var doc Config
	md, err := toml.DecodeFile(path, &doc)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: %s: unknown key %q", ErrConfig, path, undecoded[0].String())
	}

	// The base document owns [project]; extensions contribute tasks and env.
	if source == ProvenanceConfig {
		l.Config.Project = doc.Project
	}

	origin := filepath.Base(path)
	for _, key := range md.Keys() {
		parts := []string(key)
		if len(parts) != 2 || parts[0] != "env" {
			continue
		}
		name := parts[1]
		l.upsertEnv(EnvDecl{
			Name:   name,
			Raw:    doc.Env[name],
			Source: source,
			Origin: origin,
		})
	}

	for name, t := range doc.Tasks {
		l.Config.Tasks[name] = t
	}

	return nil
}

// mergeDotenv layers .env (or .env.<profile>) over the config env.
// A missing file is not an error. godotenv preserves no order, so keys are
// applied sorted for determinism.
func (l *Loaded) mergeDotenv() error {
	name := ".env"
	if profile := os.Getenv(ProfileEnvVar); profile != "" {
		name = ".env." + profile
	}
	path := filepath.Join(l.Dir, name)
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}

	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		l.upsertEnv(EnvDecl{
			Name:   n,
			Raw:    vars[n],
			Source: ProvenanceDotenv,
			Origin: name,
		})
	}

	l.DotenvFile = path
	return nil
}

// upsertEnv applies one declaration: a new name is appended, a re-declared
// name is overwritten in place so exactly one value per name survives.
func (l *Loaded) upsertEnv(decl EnvDecl) {
	l.Config.Env[decl.Name] = decl.Raw
	for i := range l.EnvDecls {
		if l.EnvDecls[i].Name == decl.Name {
			l.EnvDecls[i] = decl
			return
		}
	}
	l.EnvDecls = append(l.EnvDecls, decl)
}
