// Package badger stores blobs in an embedded Badger database. Keys are
// host + "/" + object, so folder listings are prefix scans.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/fedround/pkg/blob"
	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/dgraph-io/badger/v4"
)

var (
	ErrDBConnection = errors.New("badger database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrUpdate       = errors.New("update error")
	ErrDelete       = errors.New("delete error")
)

type Store struct {
	db *badger.DB
}

var _ blob.Store = (*Store)(nil)

// NewStore opens the database at path. An empty path keeps everything in
// memory.
func NewStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) List(_ context.Context, folder blob.Description) ([]string, error) {
	prefix := key(folder)

	var relative []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			relative = append(relative, string(it.Item().Key()[len(prefix):]))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return blob.Collapse(relative), nil
}

func (s *Store) Download(_ context.Context, file blob.Description) ([]byte, error) {
	if file.Object == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(file))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, blob.ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return val, nil
}

func (s *Store) Upload(_ context.Context, file blob.Description, content []byte) error {
	if file.Object == "" || file.Folder() {
		return pkgerrors.ErrEmptyKey
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(file), content)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}

	return nil
}

func (s *Store) Exists(_ context.Context, files ...blob.Description) (bool, error) {
	exists := true
	err := s.db.View(func(txn *badger.Txn) error {
		for _, f := range files {
			_, err := txn.Get(key(f))
			if errors.Is(err, badger.ErrKeyNotFound) {
				exists = false

				return nil
			}
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return exists, nil
}

func (s *Store) Delete(_ context.Context, folder blob.Description) error {
	if folder.Object == "" {
		return pkgerrors.ErrEmptyKey
	}

	if err := s.db.DropPrefix(key(folder)); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return nil
}

func key(d blob.Description) []byte {
	return []byte(d.Host + "/" + d.Object)
}
