package persist

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

const slowStatementThreshold = 200 * time.Millisecond

// ancStateRow is the single row holding persisted ANC state
type ancStateRow struct {
	ID              uint `gorm:"primaryKey"`
	Enabled         bool
	Mode            int
	LeakthroughGain int
	UpdatedAt       time.Time
}

func (ancStateRow) TableName() string { return "anc_state" }

const stateRowID = 1

// SQLStore keeps state in a SQLite database
type SQLStore struct {
	mu       sync.Mutex
	db       *gorm.DB
	path     string
	defaults anc.Persisted
	logger   logger.Logger
}

// OpenSQLStore opens or creates the database at path and migrates the schema
func OpenSQLStore(path string, defaults anc.Persisted, log logger.Logger) (*SQLStore, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component(ComponentPersist).
				Category(errors.CategoryFileIO).
				Context("operation", "mkdir").
				Context("path", path).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowStatementThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentPersist).
			Category(errors.CategoryPersistence).
			Context("operation", "open").
			Context("path", path).
			Build()
	}
	if err := db.AutoMigrate(&ancStateRow{}); err != nil {
		return nil, errors.New(err).
			Component(ComponentPersist).
			Category(errors.CategoryPersistence).
			Context("operation", "migrate").
			Build()
	}

	log.Info("opened sqlite state store", logger.String("path", path))
	return &SQLStore{db: db, path: path, defaults: defaults, logger: log}, nil
}

func (s *SQLStore) Get() (anc.Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row ancStateRow
	err := s.db.Take(&row, stateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return s.defaults, s.dbError(err, "get")
	}
	return anc.Persisted{Enabled: row.Enabled, Mode: row.Mode, LeakthroughGain: row.LeakthroughGain}, nil
}

// Release upserts the single state row
func (s *SQLStore) Release(p anc.Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := ancStateRow{
		ID:              stateRowID,
		Enabled:         p.Enabled,
		Mode:            p.Mode,
		LeakthroughGain: p.LeakthroughGain,
	}
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return s.dbError(err, "release")
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return s.dbError(err, "close")
	}
	return sqlDB.Close()
}

func (s *SQLStore) dbError(err error, op string) error {
	return errors.New(err).
		Component(ComponentPersist).
		Category(errors.CategoryPersistence).
		Context("operation", op).
		Context("path", s.path).
		Build()
}
