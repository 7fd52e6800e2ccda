package api

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/WardBrian/tinystan/internal/catalog"
	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

// ModelProvider hands out compiled models for a catalog name and data.
type ModelProvider interface {
	WithModel(ctx context.Context, name, data string, seed uint32, fn func(m *tinystan.Model) error) error
}

type ModelProviderConfig struct {
	// MaxCached bounds the number of compiled models kept. Zero disables
	// caching.
	MaxCached int
	Log       logger.Logger
}

// CachedModelProvider compiles catalog models and keeps them keyed by
// name, seed and data.
type CachedModelProvider struct {
	cfg   ModelProviderConfig
	mu    sync.Mutex
	cache map[string]*tinystan.Model
}

func NewCachedModelProvider(cfg ModelProviderConfig) *CachedModelProvider {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	return &CachedModelProvider{
		cfg:   cfg,
		cache: make(map[string]*tinystan.Model),
	}
}

func (p *CachedModelProvider) WithModel(ctx context.Context, name, data string, seed uint32, fn func(m *tinystan.Model) error) error {
	m, cached, err := p.getOrCompile(name, data, seed)
	if err != nil {
		return err
	}
	if !cached {
		defer m.Close()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(m)
}

func (p *CachedModelProvider) getOrCompile(name, data string, seed uint32) (*tinystan.Model, bool, error) {
	entry, err := catalog.Lookup(name)
	if err != nil {
		return nil, false, err
	}
	key := entry.Name + "\x00" + strconv.FormatUint(uint64(seed), 10) + "\x00" + strings.TrimSpace(data)

	p.mu.Lock()
	m, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		return m, true, nil
	}

	m, err = tinystan.NewModel(entry.Definition, data, seed, tinystan.WithLogger(p.cfg.Log.With("model", entry.Name)))
	if err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[key]; ok {
		m.Close()
		return existing, true, nil
	}
	if len(p.cache) >= p.cfg.MaxCached {
		return m, false, nil
	}
	p.cache[key] = m
	return m, true, nil
}

// Close releases every cached model.
func (p *CachedModelProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, m := range p.cache {
		m.Close()
		delete(p.cache, key)
	}
}

// ListModels describes the catalog. Parameter names come from compiling
// each model with its example data.
func ListModels() []ModelInfo {
	entries := catalog.List()
	out := make([]ModelInfo, 0, len(entries))
	for _, e := range entries {
		info := ModelInfo{ID: e.Name, Object: "model", Doc: e.Doc, Example: e.Example, Params: []string{}}
		if m, err := tinystan.NewModel(e.Definition, e.Example, 0); err == nil {
			if names := m.ParamNames(); names != nil {
				info.Params = names
			}
			m.Close()
		}
		out = append(out, info)
	}
	return out
}
