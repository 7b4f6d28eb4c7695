package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/spf13/viper"

	"github.com/loykin/svcmgr/internal/service"
)

// FileStore loads and saves the services list of a config file. Saving
// rewrites the services key only; every other setting in the file is kept.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) read() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(s.path)
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return v, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", s.path, err)
	}
	return v, nil
}

// LoadAll returns the services in file order. A missing file holds none.
func (s *FileStore) LoadAll() ([]service.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.read()
	if err != nil {
		return nil, err
	}
	var specs []ServiceSpec
	if err := v.UnmarshalKey("services", &specs); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	return specsToConfigs(specs)
}

// SaveAll replaces the services list with cfgs.
func (s *FileStore) SaveAll(cfgs []service.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.read()
	if err != nil {
		return err
	}
	list := make([]map[string]any, len(cfgs))
	for i, c := range cfgs {
		list[i] = toMap(c)
	}
	v.Set("services", list)
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write config %s: %w", s.path, err)
	}
	return nil
}
