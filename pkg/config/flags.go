package config

import (
	"fmt"
	"strings"
)

// Flags carries the CLI options of image-build.
type Flags struct {
	DryRun      bool
	Push        bool
	Export      bool
	IgnoreEmpty bool
	File        string
	Select      string
	Verbose     bool
}

// ParseVars turns positional KEY=VALUE arguments into a variable map.
func ParseVars(args []string) (map[string]any, error) {
	vars := map[string]any{}
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("argument %q must have the format KEY=VALUE", arg)
		}
		vars[key] = value
	}
	return vars, nil
}
