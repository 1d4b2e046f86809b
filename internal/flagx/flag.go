// Package flagx pre-filters command-line arguments so a config file flag can
// be read before the full flag set is parsed.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs returns only the allowed flags (and their values) from args.
//
// Supported forms are "-c conf.toml" and "--config=conf.toml". A value is
// taken from the next argument only when it does not start with '-'.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}
	return filtered
}

// ConfigPath extracts the value of -config / -c from args, ignoring every other flag.
// The last occurrence wins; "" means none was given.
func ConfigPath(args []string) string {
	var path string
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to TOML config file")
	fs.StringVar(&path, "c", "", "path to TOML config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "--c", "-config", "--config"}))
	return path
}
