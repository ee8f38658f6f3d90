package migrations

import (
	"github.com/digiy/pulse-dispatch/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createPulseOutboxTable(),
	})

	return m.Migrate()
}

func createPulseOutboxTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_pulse_outbox",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OutboxJobModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_pulse_outbox_claim ON pulse_outbox (created_at) WHERE status = 'PENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_pulse_outbox_inflight ON pulse_outbox (claimed_at) WHERE status = 'INFLIGHT'`,
				`CREATE INDEX IF NOT EXISTS idx_pulse_outbox_reservation_id ON pulse_outbox (reservation_id) WHERE reservation_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_pulse_outbox_business_kind ON pulse_outbox (business_code, pulse_kind)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OutboxJobModel{})
		},
	}
}
