package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Clean(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Tasks: map[string]Task{
			"build": {Cmds: []string{"make"}, Retry: 2, Timeout: 60},
			"dist":  {Sources: []string{"src/**"}, Outputs: []string{"out/**"}},
			// Declaring only sources (or only outputs) is valid: the task
			// simply never caches.
			"scan": {Cmds: []string{"lint"}, Sources: []string{"src/**"}},
		},
	}
	assert.Empty(t, Validate(cfg))
}

func TestValidate_FieldErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Project: ProjectConfig{Log: "syslog"},
		Tasks: map[string]Task{
			"bad": {
				Retry:      -1,
				RetryDelay: -0.5,
				Timeout:    -2,
				RunIf:      "test -f x",
				SkipIf:     "test -f x",
			},
		},
	}

	errs := Validate(cfg)
	require.Len(t, errs, 5)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrConfig)
	}
}

func TestWarnings_OneSidedCacheFields(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Tasks: map[string]Task{
			"sources-only": {Cmds: []string{"lint"}, Sources: []string{"src/**"}},
			"outputs-only": {Cmds: []string{"gen"}, Outputs: []string{"out/**"}},
			"both":         {Sources: []string{"src/**"}, Outputs: []string{"out/**"}},
			"neither":      {Cmds: []string{"true"}},
		},
	}

	warnings := Warnings(cfg)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "outputs-only")
	assert.Contains(t, warnings[1], "sources-only")
}
