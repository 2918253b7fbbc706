package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		command string
		args    []string
		want    string
	}{
		{"no args", "go test ./...", nil, "go test ./..."},
		{"positional", "greet $1 $2", []string{"alice", "bob"}, "greet alice bob"},
		{"repeated placeholder", "echo $1 $1", []string{"x"}, "echo x x"},
		{"append when no placeholder", "go test", []string{"-v", "./..."}, "go test -v ./..."},
		{"appended args are quoted", "echo", []string{"two words"}, "echo 'two words'"},
		{"double digit not clobbered", "run $1 $11",
			[]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"},
			"run a k"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExpandArgs(tc.command, tc.args))
		})
	}
}
