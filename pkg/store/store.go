package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/ericvolp12/rental-monitor/pkg/format"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	slogGorm "github.com/orandin/slog-gorm"
)

var tracer = otel.Tracer("store")

// Store persists every ingested event in sqlite.
type Store struct {
	logger *slog.Logger
	db     *gorm.DB
	ttl    time.Duration

	cursor    Cursor
	lastBlock uint64
	blockLk   sync.RWMutex
}

func Open(logger *slog.Logger, sqlitePath string, migrate bool, ttl time.Duration) (*Store, error) {
	gormLogger := slogGorm.New()

	db, err := gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if migrate {
		if err := db.AutoMigrate(&Event{}, &Cursor{}); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Set pragmas for performance
	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	s := &Store{
		logger: logger.With("module", "store"),
		db:     db,
		ttl:    ttl,
	}

	if err := db.First(&s.cursor).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get cursor: %w", err)
		}
		if err := db.Create(&s.cursor).Error; err != nil {
			return nil, fmt.Errorf("failed to create cursor: %w", err)
		}
	}
	s.lastBlock = s.cursor.LastBlock

	return s, nil
}

// Run saves the cursor every minute and, when a TTL is set, deletes expired
// events every five minutes. It returns once ctx is done, after a final
// cursor save.
func (s *Store) Run(ctx context.Context) {
	cursorTicker := time.NewTicker(60 * time.Second)
	defer cursorTicker.Stop()

	var ttlTick <-chan time.Time
	if s.ttl > 0 {
		ttlTicker := time.NewTicker(5 * time.Minute)
		defer ttlTicker.Stop()
		ttlTick = ttlTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("store closing, saving cursor", "block", s.LastBlock())
			if err := s.SaveCursor(); err != nil {
				s.logger.Error("failed to save cursor", "err", err)
			}
			return
		case <-cursorTicker.C:
			if err := s.SaveCursor(); err != nil {
				s.logger.Error("failed to save cursor", "err", err)
			}
		case <-ttlTick:
			s.logger.Info("deleting old events")
			n, err := s.DeleteExpired(ctx)
			if err != nil {
				s.logger.Error("failed to delete old events", "err", err)
				continue
			}
			s.logger.Info("old events deleted", "count", n)
		}
	}
}

func (s *Store) SaveCursor() error {
	s.blockLk.RLock()
	s.cursor.LastBlock = s.lastBlock
	s.blockLk.RUnlock()
	return s.db.Save(&s.cursor).Error
}

func (s *Store) LastBlock() uint64 {
	s.blockLk.RLock()
	defer s.blockLk.RUnlock()
	return s.lastBlock
}

// Record stores evt. Redelivered events (same kind and id) are ignored and
// reported as not inserted.
func (s *Store) Record(ctx context.Context, evt events.Event) (bool, error) {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(evt.Kind)),
		attribute.String("id", evt.ID),
	)

	raw, err := evt.Data()
	if err != nil {
		return false, fmt.Errorf("failed to encode event: %w", err)
	}

	row := &Event{
		EventID:     evt.ID,
		Kind:        string(evt.Kind),
		Contract:    evt.Contract,
		BlockNumber: evt.BlockNumber,
		TxHash:      evt.TxHash,
		Timestamp:   format.Timestamp(evt.Timestamp).UnixMilli(),
		Raw:         raw,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		eventsStored.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to create event: %w", res.Error)
	}

	s.blockLk.Lock()
	if evt.BlockNumber > s.lastBlock {
		s.lastBlock = evt.BlockNumber
	}
	s.blockLk.Unlock()

	if res.RowsAffected == 0 {
		eventsStored.WithLabelValues("duplicate").Inc()
		return false, nil
	}
	eventsStored.WithLabelValues("ok").Inc()
	return true, nil
}

type Query struct {
	Kind     *events.Kind
	Contract *string
	TxHash   *string
	Block    *uint64
	Limit    int
}

// Events returns stored events matching q, newest first.
func (s *Store) Events(ctx context.Context, q Query) ([]events.Event, error) {
	ctx, span := tracer.Start(ctx, "Events")
	defer span.End()

	limit := q.Limit
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var rows []Event
	tx := s.db.WithContext(ctx)
	if q.Kind != nil {
		tx = tx.Where("kind = ?", string(*q.Kind))
	}
	if q.Contract != nil {
		tx = tx.Where("contract = ?", *q.Contract)
	}
	if q.TxHash != nil {
		tx = tx.Where("tx_hash = ?", *q.TxHash)
	}
	if q.Block != nil {
		tx = tx.Where("block_number = ?", *q.Block)
	}
	if err := tx.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		evt, err := events.Parse(events.Kind(r.Kind), r.Raw)
		if err != nil {
			s.logger.Warn("skipping unreadable stored event", "id", r.ID, "err", err)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// DeleteExpired removes events stored longer ago than the TTL.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Exec("DELETE FROM events WHERE created_at < ?", time.Now().Add(-s.ttl))
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
