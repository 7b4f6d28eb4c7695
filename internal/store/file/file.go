// Package file keeps service snapshots in a single YAML document, rewritten
// atomically on every save.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/svcmgr/internal/store"
)

type document struct {
	SavedAt  time.Time        `yaml:"saved_at"`
	Services []store.Snapshot `yaml:"services"`
}

type Store struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty snapshot file path")
	}
	return &Store{path: p}, nil
}

func (s *Store) EnsureSchema(context.Context) error {
	return os.MkdirAll(filepath.Dir(s.path), 0o750)
}

func (s *Store) Close() error { return nil }

func (s *Store) Save(ctx context.Context, snaps []store.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	doc := document{SavedAt: now, Services: make([]store.Snapshot, len(snaps))}
	for i, sn := range snaps {
		if sn.UpdatedAt.IsZero() {
			sn.UpdatedAt = now
		}
		doc.Services[i] = sn
	}
	sort.Slice(doc.Services, func(i, j int) bool { return doc.Services[i].Name < doc.Services[j].Name })
	b, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) ([]store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	b, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return []store.Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if doc.Services == nil {
		doc.Services = []store.Snapshot{}
	}
	return doc.Services, nil
}
