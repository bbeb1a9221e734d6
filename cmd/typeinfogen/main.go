// Command typeinfogen writes TypeUID and EnumCases methods for the named
// types of Go packages.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/internal/gen"
)

var version = "dev"

func main() {
	cfg, err := gen.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "typeinfogen:", err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		return
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "typeinfogen:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	runner := gen.NewRunner(
		gen.NewLoader(),
		gen.New(gen.NewGoimportsFormatter(), gen.NewFileWriter()),
		logger,
	)
	if err := runner.Run(cfg); err != nil {
		logger.Error("generation failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
