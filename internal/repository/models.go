package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
)

// OutboxStatus is the persisted lifecycle state of an outbox job.
type OutboxStatus string

const (
	StatusPending  OutboxStatus = "PENDING"
	StatusInflight OutboxStatus = "INFLIGHT"
	StatusSent     OutboxStatus = "SENT"
	StatusFailed   OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

// JSONMap persists free-form structured data as jsonb.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}

	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

// OutboxJobModel is the persistence model for the pulse_outbox table.
type OutboxJobModel struct {
	ID             string       `gorm:"type:uuid;primaryKey"`
	Channel        string       `gorm:"type:varchar(10);not null"`
	Phone          string       `gorm:"type:varchar(32);not null"`
	BusinessCode   string       `gorm:"type:varchar(64);not null"`
	PulseKind      string       `gorm:"type:varchar(32);not null"`
	Message        string       `gorm:"type:text"`
	Payload        JSONMap      `gorm:"type:jsonb"`
	ReservationID  *string      `gorm:"type:uuid"`
	Status         OutboxStatus `gorm:"type:varchar(10);not null;default:'PENDING'"`
	AttemptCount   int          `gorm:"not null;default:0"`
	MaxAttempts    int          `gorm:"not null;default:5"`
	NextAttemptAt  *time.Time
	ClaimedAt      *time.Time
	ClaimedBy      *string      `gorm:"type:varchar(64)"`
	LastError      *string      `gorm:"type:text"`
	ProviderResult JSONMap      `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (OutboxJobModel) TableName() string {
	return "pulse_outbox"
}

func outboxModelFromJob(j *domain.PulseJob) *OutboxJobModel {
	if j == nil {
		return nil
	}

	m := &OutboxJobModel{
		ID:           j.ID,
		Channel:      string(j.Channel),
		Phone:        j.Phone,
		BusinessCode: j.BusinessCode,
		PulseKind:    j.PulseKind,
		Message:      j.Message,
		Payload:      JSONMap(j.Payload),
		Status:       StatusPending,
	}
	if j.ReservationID != "" {
		value := j.ReservationID
		m.ReservationID = &value
	}
	return m
}

func outboxModelToJob(m *OutboxJobModel) domain.PulseJob {
	job := domain.PulseJob{
		ID:           m.ID,
		Channel:      domain.Channel(m.Channel),
		Phone:        m.Phone,
		BusinessCode: m.BusinessCode,
		PulseKind:    m.PulseKind,
		Message:      m.Message,
		Payload:      map[string]any(m.Payload),
	}
	if m.ReservationID != nil {
		job.ReservationID = *m.ReservationID
	}
	return job
}
