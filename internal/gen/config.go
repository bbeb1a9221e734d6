// Package gen writes typeinfo identity and enum methods for the named types
// of a Go package.
package gen

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// DefaultOutput is the name of the file written into each package.
const DefaultOutput = "typeinfo_gen.go"

// Config stores CLI options for a single generation run.
type Config struct {
	Dir         string
	Pattern     string
	Output      string
	Types       []string
	Verbose     bool
	ShowVersion bool
}

// Wants reports whether the type named name should be generated.
func (c *Config) Wants(name string) bool {
	return len(c.Types) == 0 || slices.Contains(c.Types, name)
}

// ParseArgs parses command line arguments into Config.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{}
	var typesRaw string

	fs := pflag.NewFlagSet("typeinfogen", pflag.ContinueOnError)
	fs.StringVarP(&cfg.Dir, "dir", "C", ".", "directory to load packages from")
	fs.StringVarP(&cfg.Pattern, "pattern", "p", ".", "package pattern to generate for")
	fs.StringVarP(&cfg.Output, "output", "o", DefaultOutput, "output file name within each package")
	fs.StringVarP(&typesRaw, "types", "t", "", "comma-separated type names to restrict generation to")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "log every generated type")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "show version")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	if strings.TrimSpace(cfg.Pattern) == "" {
		return nil, fmt.Errorf("--pattern must not be empty")
	}
	cfg.Output = strings.TrimSpace(cfg.Output)
	if cfg.Output == "" || strings.ContainsAny(cfg.Output, `/\`) {
		return nil, fmt.Errorf("--output must be a plain file name, got %q", cfg.Output)
	}
	if !strings.HasSuffix(cfg.Output, ".go") {
		return nil, fmt.Errorf("--output must end in .go, got %q", cfg.Output)
	}

	cfg.Types = splitCommaList(typesRaw)
	return cfg, nil
}

func splitCommaList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
