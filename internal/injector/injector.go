//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"
)

// InitializeApp wires the inspector application from its config.
func InitializeApp(cfg Config) (*App, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
