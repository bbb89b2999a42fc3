package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"fetchoraw/logger"
	"fetchoraw/resolver"
)

const DefaultTablePrefix = "fetchoraw_"

type cacheEntry struct {
	Key  string `gorm:"primaryKey"`
	Seq  int    `gorm:"index"`
	Path string
	Data string // JSON, empty when the descriptor has no data
}

// SQLiteStore keeps entries in a table. Opening an absent file would create it,
// so the database is only opened once it exists or on the first Save.
type SQLiteStore struct {
	path   string
	prefix string
	log    logger.Logger
	db     *gorm.DB
}

func OpenSQLite(path, prefix string, l logger.Logger) (*SQLiteStore, error) {
	if l == nil {
		l = logger.NewNop()
	}
	s := &SQLiteStore{path: path, prefix: prefix, log: l}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		if err := s.open(); err != nil {
			return nil, err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat sqlite %s: %w", path, err)
	}
	return s, nil
}

func (s *SQLiteStore) open() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir for %s: %w", s.path, err)
		}
	}
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger:         NewGormLogger(s.log),
		NamingStrategy: schema.NamingStrategy{TablePrefix: s.prefix},
	})
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", s.path, err)
	}
	if err := db.AutoMigrate(&cacheEntry{}); err != nil {
		return fmt.Errorf("migrate sqlite %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) Exists(context.Context) (bool, error) { return s.db != nil, nil }

func (s *SQLiteStore) Load(ctx context.Context) ([]Pair, error) {
	if s.db == nil {
		return nil, nil
	}
	var rows []cacheEntry
	if err := s.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(rows))
	for _, r := range rows {
		entry := resolver.Result{Path: r.Path}
		if r.Data != "" {
			if err := json.Unmarshal([]byte(r.Data), &entry.Data); err != nil {
				return nil, fmt.Errorf("%w: key %s: %v", ErrMalformed, r.Key, err)
			}
		}
		pairs = append(pairs, Pair{Key: r.Key, Entry: entry})
	}
	return pairs, nil
}

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, pairs []Pair) error {
	if s.db == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&cacheEntry{}).Error; err != nil {
			return err
		}
		if len(pairs) == 0 {
			return nil
		}
		rows := make([]cacheEntry, 0, len(pairs))
		for i, p := range pairs {
			row := cacheEntry{Key: p.Key, Seq: i, Path: p.Entry.Path}
			if p.Entry.Data != nil {
				b, err := json.Marshal(p.Entry.Data)
				if err != nil {
					return fmt.Errorf("key %s: %w", p.Key, err)
				}
				row.Data = string(b)
			}
			rows = append(rows, row)
		}
		return tx.CreateInBatches(&rows, 200).Error
	})
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
