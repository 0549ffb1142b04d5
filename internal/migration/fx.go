package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/facturo/internal/config"
	invoicedomain "github.com/smallbiznis/facturo/internal/invoice/domain"
	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}
		// Non-Postgres engines (sqlite for local and test runs) get the
		// schema straight from the models.
		return AutoMigrate(conn)
	}),
)

// AutoMigrate creates the schema from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&invoicedomain.Company{},
		&invoicedomain.Client{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.SequenceCounter{},
		&vdomain.DeadLetterEntry{},
	)
}
