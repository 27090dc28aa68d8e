package blob

import (
	"context"
	"strings"
	"sync"

	"github.com/absmach/fedround/pkg/errors"
)

type memoryStore struct {
	sync.Mutex

	data map[string]map[string][]byte
}

func NewMemoryStore() Store {
	return &memoryStore{
		data: make(map[string]map[string][]byte),
	}
}

func (s *memoryStore) List(_ context.Context, folder Description) ([]string, error) {
	s.Lock()
	defer s.Unlock()

	var relative []string
	for object := range s.data[folder.Host] {
		if strings.HasPrefix(object, folder.Object) {
			relative = append(relative, object[len(folder.Object):])
		}
	}

	return Collapse(relative), nil
}

func (s *memoryStore) Download(_ context.Context, file Description) ([]byte, error) {
	if file.Object == "" {
		return nil, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if val, ok := s.data[file.Host][file.Object]; ok {
		return append([]byte(nil), val...), nil
	}

	return nil, ErrNotFound
}

func (s *memoryStore) Upload(_ context.Context, file Description, content []byte) error {
	if file.Object == "" || file.Folder() {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	host, ok := s.data[file.Host]
	if !ok {
		host = make(map[string][]byte)
		s.data[file.Host] = host
	}
	host[file.Object] = append([]byte(nil), content...)

	return nil
}

func (s *memoryStore) Exists(_ context.Context, files ...Description) (bool, error) {
	s.Lock()
	defer s.Unlock()

	for _, f := range files {
		if _, ok := s.data[f.Host][f.Object]; !ok {
			return false, nil
		}
	}

	return true, nil
}

func (s *memoryStore) Delete(_ context.Context, folder Description) error {
	if folder.Object == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	for object := range s.data[folder.Host] {
		if strings.HasPrefix(object, folder.Object) {
			delete(s.data[folder.Host], object)
		}
	}

	return nil
}
