package schema

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spez-io/spez/pkg/models"
)

// CursorFunc opens a metadata cursor for a table. The returned close
// function, if not nil, is called once the cursor has been drained.
type CursorFunc func(ctx context.Context, table string) (cursor models.MetadataCursor, close func(), err error)

// Registry caches one SchemaSet per table. A table is inferred on first use
// and reused until Invalidate is called; the registry does not detect
// changes to a table's shape.
type Registry struct {
	mu         sync.RWMutex
	sets       map[string]*SchemaSet
	namespace  string
	open       CursorFunc
	inferencer *Inferencer
	group      singleflight.Group
	logger     *zap.Logger
}

// NewRegistry creates a registry that infers tables under namespace using
// cursors from open.
func NewRegistry(namespace string, open CursorFunc, inferencer *Inferencer, logger *zap.Logger) *Registry {
	if inferencer == nil {
		inferencer = NewInferencer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sets:       make(map[string]*SchemaSet),
		namespace:  namespace,
		open:       open,
		inferencer: inferencer,
		logger:     logger,
	}
}

// Get returns the cached SchemaSet of table, if any.
func (r *Registry) Get(table string) (*SchemaSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[table]
	return set, ok
}

// Put stores a SchemaSet under its table name, replacing any previous one.
func (r *Registry) Put(set *SchemaSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[set.Name()] = set
}

// Invalidate drops the cached SchemaSet of table so the next Load infers it again.
func (r *Registry) Invalidate(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sets, table)
}

// Tables returns the cached table names, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sets))
	for name := range r.sets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load returns the SchemaSet of table, inferring and caching it on first
// use. Concurrent loads of the same table share one inference.
func (r *Registry) Load(ctx context.Context, table string) (*SchemaSet, error) {
	if set, ok := r.Get(table); ok {
		return set, nil
	}

	v, err, shared := r.group.Do(table, func() (interface{}, error) {
		if set, ok := r.Get(table); ok {
			return set, nil
		}

		cursor, closeFn, err := r.open(ctx, table)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			defer closeFn()
		}

		set, err := r.inferencer.InferSchema(table, r.namespace, cursor)
		if err != nil {
			return nil, err
		}
		r.Put(set)
		r.logger.Info("schema registered",
			zap.String("table", table),
			zap.String("fingerprint", set.Fingerprint()),
			zap.Int("columns", set.Len()))
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("shared schema inference", zap.String("table", table))
	}
	return v.(*SchemaSet), nil
}
