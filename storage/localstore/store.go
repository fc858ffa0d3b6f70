package localstore

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Store is a small file-backed key-value store for client-local state that
// must survive a forced navigation or restart (eg. the one-shot
// "signed out due to inactivity" flag).
type Store struct {
	path string

	mutex sync.Mutex
	t     map[string]interface{}
}

// Open loads the store file at path, creating an empty store when the file
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, t: make(map[string]interface{})}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "localstore.Open(%s)", path)
	}
	if err := json.Unmarshal(data, &s.t); err != nil {
		return nil, errors.Wrapf(err, "localstore.Open(%s)", path)
	}
	return s, nil
}

func (s *Store) Get(key string) (interface{}, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	v, ok := s.t[key]
	return v, ok
}

func (s *Store) Put(key string, val interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.t[key] = val
	return s.flush()
}

func (s *Store) Delete(key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.t, key)
	return s.flush()
}

// TakeFlag reads and clears a boolean flag in one step; the one-shot
// semantics consumers rely on.
func (s *Store) TakeFlag(key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	v, ok := s.t[key]
	if !ok {
		return false, nil
	}
	delete(s.t, key)
	if err := s.flush(); err != nil {
		return false, err
	}
	set, _ := v.(bool)
	return set, nil
}

func (s *Store) flush() error {
	data, err := json.Marshal(s.t)
	if err != nil {
		return errors.Wrap(err, "localstore.flush")
	}
	return errors.Wrapf(ioutil.WriteFile(s.path, data, 0600), "localstore.flush(%s)", s.path)
}
