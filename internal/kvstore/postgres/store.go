package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	kvDatamodel "github.com/frahmantamala/peerpay/internal/core/datamodel/kv"
	"github.com/frahmantamala/peerpay/internal/kvstore"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) kvstore.Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var entry kvDatamodel.Entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kvstore.ErrNotFound
		}
		return nil, err
	}
	return entry.Value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	entry := kvDatamodel.Entry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&kvDatamodel.Entry{}).Error
}

func (s *Store) List(ctx context.Context, prefix string) ([]kvstore.Entry, error) {
	var rows []kvDatamodel.Entry
	err := s.db.WithContext(ctx).
		Where("entry_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("entry_key ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]kvstore.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, kvstore.Entry{Key: r.Key, Value: r.Value, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
