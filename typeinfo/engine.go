package typeinfo

import (
	"reflect"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of finished layouts an Engine keeps.
const DefaultCacheSize = 256

// Engine computes TypeLayouts and caches the finished results per type.
// Derivation itself keeps no state between calls; the cache only holds
// completed layouts, and callers always receive their own copy.
type Engine struct {
	cache     *lru.Cache[reflect.Type, TypeLayout]
	cacheSize int
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCacheSize sets how many layouts are cached. Zero disables caching.
func WithCacheSize(size int) EngineOption {
	return func(e *Engine) {
		e.cacheSize = size
	}
}

// WithLogger sets the logger used for cache activity. The package logger is
// used otherwise.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(e)
	}
	if e.cacheSize > 0 {
		cache, err := lru.New[reflect.Type, TypeLayout](e.cacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// MustNewEngine is like NewEngine but panics on invalid options.
func MustNewEngine(opts ...EngineOption) *Engine {
	e, err := NewEngine(opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Of returns the layout of t.
func (e *Engine) Of(t reflect.Type) (TypeLayout, error) {
	if e.cache != nil && t != nil {
		if tl, ok := e.cache.Get(t); ok {
			e.log().Debug("layout cache hit", zap.Stringer("type", t))
			return tl.Clone(), nil
		}
	}

	tl, err := Compute(t)
	if err != nil {
		return TypeLayout{}, err
	}

	if e.cache != nil {
		e.cache.Add(t, tl)
		e.log().Debug("layout cached",
			zap.Stringer("type", t),
			zap.Int("defined_types", len(tl.DefinedTypes)),
		)
	}
	return tl.Clone(), nil
}

func (e *Engine) log() *zap.Logger {
	if e.logger != nil {
		return e.logger
	}
	return Logger()
}

// Len returns the number of cached layouts.
func (e *Engine) Len() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

// Purge drops every cached layout.
func (e *Engine) Purge() {
	if e.cache != nil {
		e.cache.Purge()
	}
}
