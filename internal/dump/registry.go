package dump

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
)

var ErrUnknownEngine = errors.New("unknown database engine")

// Registry maps engine kinds to their providers.
type Registry struct {
	providers map[config.Engine]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[config.Engine]Provider)}
}

// NewDefaultRegistry registers every supported engine, writing dumps to dir.
func NewDefaultRegistry(dir string, runner Runner, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(config.EngineMySQL, NewMySQLProvider(dir, runner, logger))
	r.Register(config.EnginePostgres, NewPostgresProvider(dir, runner, logger))
	r.Register(config.EngineMongo, NewMongoProvider(dir, runner, logger))
	r.Register(config.EngineRedis, NewRedisProvider(dir, logger))
	return r
}

func (r *Registry) Register(engine config.Engine, provider Provider) {
	r.providers[engine] = provider
}

// For returns the provider bound to engine.
func (r *Registry) For(engine config.Engine) (Provider, error) {
	provider, ok := r.providers[engine]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownEngine, engine)
	}
	return provider, nil
}
