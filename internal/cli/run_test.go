package cli

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"

	"github.com/stride-run/stride/internal/engine"
)

func TestNormalizeFlag(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	assert.Equal(t, pflag.NormalizedName("dry-run"), normalizeFlag(fs, "dry_run"))
	assert.Equal(t, pflag.NormalizedName("no-cache"), normalizeFlag(fs, "no_cache"))
	assert.Equal(t, pflag.NormalizedName("verbose"), normalizeFlag(fs, "verbose"))
}

func TestRenderDetail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", renderDetail(engine.Result{Status: engine.StatusExecuted, Attempts: 1}))
	assert.Equal(t, "  (3 attempts)", renderDetail(engine.Result{Status: engine.StatusExecuted, Attempts: 3}))
	assert.Equal(t, "  (skip_if)", renderDetail(engine.Result{Status: engine.StatusSkipped, SkipReason: engine.SkipBySkipIf}))
	assert.Equal(t, "  (ignored)", renderDetail(engine.Result{Status: engine.StatusFailed, Ignored: true}))

	err := errors.New("first line\nsecond line")
	assert.Equal(t, "  first line", renderDetail(engine.Result{Status: engine.StatusFailed, Err: err}))
}

func TestFirstLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "single", firstLine(errors.New("single")))
	assert.Equal(t, "head", firstLine(errors.New("head\ntail")))
}
