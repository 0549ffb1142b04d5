package invoice

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/facturo/internal/invoice/repository"
	"github.com/smallbiznis/facturo/internal/invoice/service"
	"github.com/smallbiznis/facturo/internal/sequence"
)

var Module = fx.Module("invoice.service",
	fx.Provide(sequence.NewAllocator),
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
