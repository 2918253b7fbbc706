package config

import (
	"fmt"
	"sort"
	"strings"
)

// Provenance identifies the layer a resolved environment value came from.
// Layer order is fixed: system < base config [env] < extensions in
// alphabetical filename order < .env; dynamic substitution runs last.
type Provenance string

const (
	// ProvenanceSystem marks values inherited from the process environment.
	ProvenanceSystem Provenance = "system"

	// ProvenanceConfig marks values from the base config [env] table.
	ProvenanceConfig Provenance = "config"

	// ProvenanceExtension marks values from an extension document.
	ProvenanceExtension Provenance = "extension"

	// ProvenanceDotenv marks values from .env or .env.<profile>.
	ProvenanceDotenv Provenance = "dotenv"

	// ProvenanceDynamic marks values produced by $(command) substitution.
	ProvenanceDynamic Provenance = "dynamic"
)

// Value is one resolved environment variable with its provenance. Origin
// names the contributing file for extension and dotenv values, or the probe
// command for dynamic values.
type Value struct {
	Value  string
	Source Provenance
	Origin string
}

// ResolvedEnvironment is the final variable set for an invocation. It is
// built once, immutable thereafter, and safe for unsynchronized concurrent
// reads by every task.
type ResolvedEnvironment struct {
	values map[string]Value
}

// DynamicRunner executes a $(command) substitution probe with the given
// partially resolved environment (in KEY=VALUE form) and returns its raw
// standard output. The resolver trims the output.
type DynamicRunner func(command string, environ []string) (string, error)

// Resolve builds the ResolvedEnvironment for a loaded configuration.
//
// systemEnviron is the process environment in KEY=VALUE form (os.Environ()
// for real runs, a fixture in tests). Static declarations are merged first;
// dynamic $(command) values are then resolved in declaration order, each
// seeing every previously resolved variable. A failing dynamic command is a
// fatal DynamicVariableError. runDynamic may be nil only when no dynamic
// declarations exist.
func Resolve(loaded *Loaded, systemEnviron []string, runDynamic DynamicRunner) (*ResolvedEnvironment, error) {
	env := &ResolvedEnvironment{values: make(map[string]Value, len(systemEnviron)+len(loaded.EnvDecls))}

	for _, kv := range systemEnviron {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		env.values[name] = Value{Value: value, Source: ProvenanceSystem}
	}

	// Static pass: later layers already overwrote earlier ones in EnvDecls.
	var dynamic []EnvDecl
	for _, decl := range loaded.EnvDecls {
		if cmd, ok := dynamicCommand(decl.Raw); ok {
			dynamic = append(dynamic, EnvDecl{Name: decl.Name, Raw: cmd, Source: decl.Source, Origin: decl.Origin})
			continue
		}
		env.values[decl.Name] = Value{Value: decl.Raw, Source: decl.Source, Origin: decl.Origin}
	}

	// Dynamic pass, declaration order.
	for _, decl := range dynamic {
		if runDynamic == nil {
			return nil, &DynamicVariableError{Name: decl.Name, Command: decl.Raw, Err: fmt.Errorf("no dynamic runner configured")}
		}
		out, err := runDynamic(decl.Raw, env.Environ())
		if err != nil {
			return nil, &DynamicVariableError{Name: decl.Name, Command: decl.Raw, Err: err}
		}
		env.values[decl.Name] = Value{
			Value:  strings.TrimSpace(out),
			Source: ProvenanceDynamic,
			Origin: decl.Raw,
		}
	}

	return env, nil
}

// dynamicCommand reports whether raw is a $(command) substitution and
// returns the inner command.
func dynamicCommand(raw string) (string, bool) {
	if strings.HasPrefix(raw, "$(") && strings.HasSuffix(raw, ")") && len(raw) > 3 {
		return raw[2 : len(raw)-1], true
	}
	return "", false
}

// Lookup returns the value and provenance for a variable name.
func (e *ResolvedEnvironment) Lookup(name string) (Value, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Get returns the value for a variable name, or "" when absent.
func (e *ResolvedEnvironment) Get(name string) string {
	return e.values[name].Value
}

// Len returns the number of resolved variables.
func (e *ResolvedEnvironment) Len() int { return len(e.values) }

// Names returns all variable names sorted lexically.
func (e *ResolvedEnvironment) Names() []string {
	names := make([]string, 0, len(e.values))
	for name := range e.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environ renders the environment in KEY=VALUE form, sorted by name,
// suitable for exec.Cmd.Env.
func (e *ResolvedEnvironment) Environ() []string {
	names := e.Names()
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name+"="+e.values[name].Value)
	}
	return out
}
