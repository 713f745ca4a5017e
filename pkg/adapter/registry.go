package adapter

import (
	"errors"
	"fmt"

	"github.com/stagecrew/micmon/pkg/adapter/sennheiser"
	"github.com/stagecrew/micmon/pkg/adapter/shure"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

const (
	sourceTypeShure      = "shure"
	sourceTypeSennheiser = "sennheiser"
)

// ErrUnknownSourceType indicates a configured source with no registered
// adapter factory.
var ErrUnknownSourceType = errors.New("unknown source type")

// Registry maps source types to adapter factories.
type Registry map[string]Factory

// DefaultRegistry returns the built-in vendor adapters.
func DefaultRegistry() Registry {
	return Registry{
		sourceTypeShure: func(source *models.Source, log logger.Logger) (Adapter, error) {
			return shure.New(source, log)
		},
		sourceTypeSennheiser: func(source *models.Source, log logger.Logger) (Adapter, error) {
			return sennheiser.New(source, log)
		},
	}
}

// Build constructs an adapter for the source, or fails for unknown types.
func (r Registry) Build(source *models.Source, log logger.Logger) (Adapter, error) {
	factory, ok := r[source.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q (source %s)", ErrUnknownSourceType, source.Type, source.Code)
	}

	return factory(source, log)
}
