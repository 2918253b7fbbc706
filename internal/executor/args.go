package executor

import (
	"fmt"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// ExpandArgs substitutes pass-through CLI arguments into a command
// template. $1..$n placeholders are replaced positionally; when the
// template uses no placeholder at all, the arguments are appended, quoted,
// to the end of the command. This keeps `stride run test -- -v ./...`
// working for simple command lists.
func ExpandArgs(command string, args []string) string {
	if len(args) == 0 {
		return command
	}

	expanded := command
	replaced := false
	// Replace from the highest index down so $12 is not clobbered by $1.
	for i := len(args); i >= 1; i-- {
		placeholder := fmt.Sprintf("$%d", i)
		if strings.Contains(expanded, placeholder) {
			expanded = strings.ReplaceAll(expanded, placeholder, args[i-1])
			replaced = true
		}
	}

	if !replaced {
		expanded += " " + shellquote.Join(args...)
	}
	return expanded
}
