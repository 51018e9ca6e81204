package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnDedupKey     = "dedup_key"
	columnFiredAt      = "fired_at_s"
	queryDedupKey      = columnDedupKey + " = ?"
	queryExpiredKey    = columnDedupKey + " = ? AND " + columnFiredAt + " < ?"
	queryExpiredBefore = columnFiredAt + " < ?"
)

// Entry is the persisted ledger row: the key plus the moment it fired.
type Entry struct {
	Key            string `gorm:"column:dedup_key;primaryKey;size:512;not null"`
	RoomID         string `gorm:"column:room_id;size:190;not null;index:idx_alert_ledger_room"`
	AlertKind      string `gorm:"column:alert_kind;size:32;not null"`
	Round          int    `gorm:"column:round;not null;default:0"`
	RecipientID    string `gorm:"column:recipient_id;size:190;not null"`
	FiredAtSeconds int64  `gorm:"column:fired_at_s;not null;index:idx_alert_ledger_fired_at"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "alert_ledger"
}

// SQLConfig configures the relational ledger.
type SQLConfig struct {
	Database  *gorm.DB
	Retention time.Duration
	Clock     func() time.Time
}

// SQLLedger stores entries in a table whose primary key is the serialized DedupKey. The unique
// constraint is the conditional-write primitive.
type SQLLedger struct {
	db        *gorm.DB
	retention time.Duration
	clock     func() time.Time
}

// NewSQLLedger constructs a ledger over an already migrated database.
func NewSQLLedger(cfg SQLConfig) (*SQLLedger, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%w: database handle is required", ErrInvalidConfig)
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLLedger{db: cfg.Database, retention: retention, clock: clock}, nil
}

// TryMark reclaims the key if its entry expired, then inserts it with ON CONFLICT DO NOTHING.
// Of any number of concurrent callers, exactly one observes an affected row.
func (l *SQLLedger) TryMark(ctx context.Context, key draft.DedupKey) (bool, error) {
	now := l.clock().UTC()
	cutoff := now.Add(-l.retention).Unix()
	db := l.db.WithContext(ctx)

	if err := db.Where(queryExpiredKey, key.String(), cutoff).Delete(&Entry{}).Error; err != nil {
		return false, fmt.Errorf("%w: reclaim %s: %v", ErrUnavailable, key, err)
	}

	entry := Entry{
		Key:            key.String(),
		RoomID:         key.RoomID.String(),
		AlertKind:      key.Kind.String(),
		Round:          key.Round,
		RecipientID:    key.RecipientID.String(),
		FiredAtSeconds: now.Unix(),
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if result.Error != nil {
		return false, fmt.Errorf("%w: insert %s: %v", ErrUnavailable, key, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Release deletes the entry for key.
func (l *SQLLedger) Release(ctx context.Context, key draft.DedupKey) error {
	if err := l.db.WithContext(ctx).Where(queryDedupKey, key.String()).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Sweep deletes entries older than the retention window.
func (l *SQLLedger) Sweep(ctx context.Context) (int64, error) {
	cutoff := l.clock().UTC().Add(-l.retention).Unix()
	result := l.db.WithContext(ctx).Where(queryExpiredBefore, cutoff).Delete(&Entry{})
	if result.Error != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrUnavailable, result.Error)
	}
	return result.RowsAffected, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (l *SQLLedger) Close() error {
	return nil
}
