package persist

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/entrance/internal/infrastructure/database"
)

// Pool shares one Store per database file across all sessions.
type Pool struct {
	template database.Config

	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewPool creates a pool. Stores it opens take their pragmas from
// template; only the path differs.
func NewPool(template database.Config) *Pool {
	return &Pool{
		template: template,
		stores:   make(map[string]*Store),
	}
}

// Get returns the store for path, opening it on first use. An empty path
// selects the template's path.
func (p *Pool) Get(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = p.template.Path
	}
	key := filepath.Clean(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if s, ok := p.stores[key]; ok {
		return s, nil
	}

	cfg := p.template
	cfg.Path = path
	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.stores[key] = s
	return s, nil
}

// Close closes every open store.
func (p *Pool) Close() error {
	p.mu.Lock()
	stores := p.stores
	p.stores = make(map[string]*Store)
	p.closed = true
	p.mu.Unlock()

	var g errgroup.Group
	for _, s := range stores {
		g.Go(s.Close)
	}
	return g.Wait()
}
