//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"github.com/todoflow/server/internal/shared/config"
)

// InitializeDependencies creates all dependencies using wire.
func InitializeDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	wire.Build(
		AppSet,
		wire.Struct(new(Dependencies), "*"),
	)
	return nil, nil, nil
}
