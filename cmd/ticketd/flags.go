// ABOUTME: Minimal long-flag parsing for ticketd subcommands
// ABOUTME: Accepts both "--name value" and "--name=value" forms

package main

import (
	"fmt"
	"slices"
	"strings"
)

// parseFlags reads --flag values for the allowed names. Unknown flags and
// positional arguments are errors.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	values := make(map[string]string)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !slices.Contains(allowed, name) {
			return nil, fmt.Errorf("unknown flag: --%s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = value
	}

	return values, nil
}
