package gen

import (
	"fmt"

	"go.uber.org/zap"
)

// Runner orchestrates the loader and generator layers.
type Runner interface {
	Run(cfg *Config) error
}

type runnerImpl struct {
	loader    Loader
	generator Generator
	logger    *zap.Logger
}

// NewRunner creates a default runner implementation.
func NewRunner(l Loader, g Generator, logger *zap.Logger) Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &runnerImpl{loader: l, generator: g, logger: logger}
}

// Run executes a single generation cycle.
func (r *runnerImpl) Run(cfg *Config) error {
	pkgs, err := r.loader.Load(cfg)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if len(pkgs) == 0 {
		r.logger.Warn("nothing to generate", zap.String("pattern", cfg.Pattern), zap.Strings("types", cfg.Types))
		return nil
	}

	for _, pkg := range pkgs {
		for _, t := range pkg.Types {
			r.logger.Debug("generating",
				zap.String("type", t.Path),
				zap.String("file", t.File),
				zap.Int("line", t.Line),
				zap.Bool("uid", t.UID),
				zap.Int("cases", len(t.Cases)),
			)
		}
		out, err := r.generator.Generate(cfg, pkg)
		if err != nil {
			return fmt.Errorf("generate %s: %w", pkg.Path, err)
		}
		r.logger.Info("wrote file", zap.String("package", pkg.Path), zap.String("file", out), zap.Int("types", len(pkg.Types)))
	}
	return nil
}
