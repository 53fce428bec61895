package configports

import (
	"context"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
)

// Loader produces one configuration layer.
type Loader interface {
	Load(ctx context.Context) (configdomain.Snapshot, error)
	Name() string
}

// Validator checks typed settings after all layers are merged.
type Validator interface {
	Validate(s *configdomain.Settings) error
}
