package authority

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturo/internal/config"
	"github.com/smallbiznis/facturo/internal/credentials"
	"github.com/smallbiznis/facturo/internal/observability/metrics"
)

// Module wires the authority adapter. Mode selects the implementation; the
// rest of the pipeline only ever sees the Adapter interface.
var Module = fx.Module("authority",
	fx.Provide(
		provideCredentialStore,
		NewSigner,
		provideAdapter,
	),
)

func provideCredentialStore(cfg config.Config) *credentials.Store {
	return credentials.NewStore(cfg.Verifact.CertDir)
}

func provideAdapter(cfg config.Config, signer *Signer, m *metrics.Metrics, log *zap.Logger) Adapter {
	if cfg.Verifact.Mode == config.ModeMock {
		return NewMock(cfg.Verifact.QRBaseURL, log.Named("authority.mock"))
	}
	return NewSOAP(cfg.Verifact, signer, m, log.Named("authority.soap"))
}
