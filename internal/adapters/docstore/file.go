// Package docstore implements the per-user document store on local files,
// Redis, SQLite and PostgreSQL.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/ports"
)

// FileStore keeps one JSON file per document under root/<user>/<collection>.
type FileStore struct {
	root string
	log  *zap.Logger
	mu   sync.Mutex
}

// NewFileStore creates a store at root.
func NewFileStore(root string, log *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage path required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root, log: log}, nil
}

func (s *FileStore) userDir(userID string) string {
	return filepath.Join(s.root, safeFilename(userID))
}

func (s *FileStore) collectionDir(userID string, coll ports.Collection) string {
	return filepath.Join(s.userDir(userID), string(coll))
}

func (s *FileStore) docPath(userID string, coll ports.Collection, id string) string {
	return filepath.Join(s.collectionDir(userID, coll), safeFilename(id)+".json")
}

func (s *FileStore) profilePath(userID string) string {
	return filepath.Join(s.userDir(userID), "profile.json")
}

// Upsert writes a document, replacing any existing one.
func (s *FileStore) Upsert(ctx context.Context, userID string, coll ports.Collection, id string, data json.RawMessage) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	if !json.Valid(data) {
		return errors.New("document is not valid json")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.docPath(userID, coll, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return s.writeFile(path, wrapDocument(id, data))
}

// Delete removes a document. Missing documents are not an error.
func (s *FileStore) Delete(ctx context.Context, userID string, coll ports.Collection, id string) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.docPath(userID, coll, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns every document in a collection ordered by id.
func (s *FileStore) List(ctx context.Context, userID string, coll ports.Collection) ([]ports.Document, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.collectionDir(userID, coll), "*.json"))
	if err != nil {
		return nil, err
	}
	docs := make([]ports.Document, 0, len(paths))
	for _, path := range paths {
		var stored storedDocument
		if err := readJSON(path, &stored); err != nil {
			s.log.Warn("skipping unreadable document", zap.String("path", path), zap.Error(err))
			continue
		}
		docs = append(docs, ports.Document{ID: stored.ID, Data: stored.Data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Profile returns the user's profile document.
func (s *FileStore) Profile(ctx context.Context, userID string) (json.RawMessage, bool, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.profilePath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// MergeProfile overlays fields onto the profile document.
func (s *FileStore) MergeProfile(ctx context.Context, userID string, fields map[string]any) error {
	if err := validKey(userID, "-"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.profilePath(userID)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	merged, err := mergeJSON(existing, fields)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return s.writeFile(path, merged)
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// Watch calls fn whenever a document of userID changes on disk, for example
// when another process writes to the same root. Bursts of events within
// debounce collapse into one call. Watch blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, userID string, debounce time.Duration, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	for _, coll := range []ports.Collection{ports.CollectionLibrary, ports.CollectionFinished} {
		dir := s.collectionDir(userID, coll)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch directory %s: %w", dir, err)
		}
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			fn()
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			s.log.Warn("fsnotify watcher error", zap.Error(err))
		}
	}
}

type storedDocument struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func wrapDocument(id string, data json.RawMessage) storedDocument {
	return storedDocument{ID: id, Data: data}
}

func (s *FileStore) writeFile(path string, v any) error {
	var payload []byte
	switch value := v.(type) {
	case []byte:
		payload = value
	default:
		encoded, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		payload = encoded
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.log.Debug("cleanup pending file", zap.String("path", path), zap.Error(err))
		}
	}()
	if _, err := pending.Write(payload); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace document: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func safeFilename(id string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_", "..", "_")
	return replacer.Replace(id)
}
