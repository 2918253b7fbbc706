package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_Mask(t *testing.T) {
	t.Parallel()

	r := NewRedactor([]string{`ghp_[A-Za-z0-9]+`, `password=\S+`})
	require.NotNil(t, r)

	assert.Equal(t, "token [REDACTED] leaked", r.Mask("token ghp_abc123XYZ leaked"))
	assert.Equal(t, "login [REDACTED]", r.Mask("login password=hunter2"))
	assert.Equal(t, "nothing to hide", r.Mask("nothing to hide"))
}

func TestRedactor_NilWhenNoUsablePattern(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewRedactor(nil))
	assert.Nil(t, NewRedactor([]string{""}))
	// A pattern that fails to compile is skipped rather than fatal.
	assert.Nil(t, NewRedactor([]string{"("}))

	// Nil receivers degrade to pass-through.
	var r *Redactor
	assert.Equal(t, "as-is", r.Mask("as-is"))

	var buf bytes.Buffer
	assert.Same(t, &buf, r.Wrap(&buf))
}

func TestRedactor_Wrap(t *testing.T) {
	t.Parallel()

	r := NewRedactor([]string{`secret-\w+`})
	require.NotNil(t, r)

	var buf bytes.Buffer
	w := r.Wrap(&buf)

	payload := []byte("value is secret-42\n")
	n, err := w.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n, "masking must not report a short write")
	assert.Equal(t, "value is [REDACTED]\n", buf.String())
}
