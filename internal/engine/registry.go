package engine

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/logger"
)

// Registry maps engine kinds to engines.
type Registry struct {
	engines map[string]Engine
	aliases map[string]string
	mu      sync.RWMutex
	logger  *zap.Logger
}

var globalRegistry = NewRegistry()

func init() {
	_ = globalRegistry.Register(NewEmbedded(nil))
	// jobs written for a cluster engine run on the embedded one
	_ = globalRegistry.RegisterAlias(KindSpark, KindEmbedded)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
		aliases: make(map[string]string),
		logger:  logger.Get().With(zap.String("component", "engine_registry")),
	}
}

// Register adds an engine under its kind.
func (r *Registry) Register(e Engine) error {
	kind := strings.ToUpper(e.Kind())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[kind]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "engine %s already registered", kind)
	}
	if _, exists := r.aliases[kind]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "engine %s is already an alias", kind)
	}
	r.engines[kind] = e
	r.logger.Debug("engine registered", zap.String("kind", kind))
	return nil
}

// RegisterAlias makes alias resolve to the engine registered under kind.
func (r *Registry) RegisterAlias(alias, kind string) error {
	alias = strings.ToUpper(alias)
	kind = strings.ToUpper(kind)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[kind]; !exists {
		return errors.Newf(errors.ErrorTypeConfig, "cannot alias %s to unregistered engine %s", alias, kind)
	}
	if _, exists := r.engines[alias]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "engine %s already registered", alias)
	}
	r.aliases[alias] = kind
	r.logger.Debug("engine alias registered", zap.String("alias", alias), zap.String("kind", kind))
	return nil
}

// Get returns the engine registered under kind. An empty kind selects the
// embedded engine.
func (r *Registry) Get(kind string) (Engine, error) {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind == "" {
		kind = KindEmbedded
	}

	r.mu.RLock()
	if target, ok := r.aliases[kind]; ok {
		kind = target
	}
	e, exists := r.engines[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "engine %s not supported (available: %s)",
			kind, strings.Join(r.Kinds(), ", "))
	}
	return e, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.engines))
	for kind := range r.engines {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Register adds an engine to the global registry.
func Register(e Engine) error {
	return globalRegistry.Register(e)
}

// Get returns an engine from the global registry.
func Get(kind string) (Engine, error) {
	return globalRegistry.Get(kind)
}

// Kinds lists the kinds in the global registry.
func Kinds() []string {
	return globalRegistry.Kinds()
}
