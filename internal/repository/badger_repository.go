package repository

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
)

const jobKeyPrefix = "job:"

// BadgerRepository is the legacy key-value implementation. Records are
// stored as JSON under job:<id> in their legacy field names.
type BadgerRepository struct {
	db     *badger.DB
	logger zerolog.Logger
}

func NewBadgerRepository(db *badger.DB, logger zerolog.Logger) *BadgerRepository {
	return &BadgerRepository{
		db:     db,
		logger: logger.With().Str("component", "badger_repository").Logger(),
	}
}

// OpenBadger opens the key-value store at path. Badger's internal logging
// uses its own logger interface and is disabled.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return badger.Open(opts)
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

func (r *BadgerRepository) Save(ctx context.Context, rec models.AnalysisJobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeLegacy(rec)
	if err != nil {
		return storageErr("save", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(rec.ID), data)
	})
	if err != nil {
		return storageErr("save", err)
	}
	return nil
}

func (r *BadgerRepository) GetByID(ctx context.Context, id string) (models.AnalysisJobRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.AnalysisJobRecord{}, err
	}
	var rec models.AnalysisJobRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeLegacy(val)
			return err
		})
	})
	if err == badger.ErrKeyNotFound {
		return models.AnalysisJobRecord{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisJobRecord{}, storageErr("get", err)
	}
	return rec, nil
}

func (r *BadgerRepository) GetAll(ctx context.Context) ([]models.AnalysisJobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []models.AnalysisJobRecord
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeLegacy(val)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("get_all", err)
	}
	// Badger iterates in key order; the contract is created_at descending.
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (r *BadgerRepository) GetByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.AnalysisJobRecord, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[models.JobStatus]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}
	matched := make([]models.AnalysisJobRecord, 0, len(all))
	for _, rec := range all {
		if _, ok := wanted[rec.Status]; ok {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

func (r *BadgerRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(jobKey(id))
	})
	if err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (r *BadgerRepository) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Collect keys first; deleting while iterating invalidates the iterator.
	var keys [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return storageErr("clear", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("clear", err)
	}
	return nil
}
