// Package memory is the cross-run lesson store: curated lessons loaded
// from a versioned YAML file and learned lessons persisted in SQL. Both
// feed identifier transformation and prompt context, and both evolve
// confidence from usage outcomes.
package memory

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// curatedFile is the YAML document shape of the curated lesson file.
type curatedFile struct {
	Lessons []models.Lesson `yaml:"lessons"`
}

// CuratedStore holds the human-maintained lessons. The file is the
// source of truth; the store never writes it, only usage counters held
// in memory change between reloads.
type CuratedStore struct {
	mu      sync.RWMutex
	path    string
	lessons map[string]*models.Lesson

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCuratedStore loads the curated lesson file. A missing file is not
// an error, the store just starts empty.
func NewCuratedStore(path string) (*CuratedStore, error) {
	cs := &CuratedStore{
		path:    path,
		lessons: make(map[string]*models.Lesson),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if path == "" {
		close(cs.doneCh)
		return cs, nil
	}
	if err := cs.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		log.Printf("[Memory] Curated lesson file %s does not exist yet", path)
	}
	return cs, nil
}

// reload replaces the lesson set from the file. Usage counters of
// lessons that survive the reload are carried over.
func (cs *CuratedStore) reload() error {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return err
	}

	var cf curatedFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse curated lessons %s: %w", cs.path, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	fresh := make(map[string]*models.Lesson, len(cf.Lessons))
	for i := range cf.Lessons {
		l := cf.Lessons[i]
		if l.ID == "" {
			return fmt.Errorf("curated lesson without id in %s", cs.path)
		}
		l.Source = models.SourceCurated
		if l.Confidence == 0 {
			l.Confidence = 1.0
		}
		if prev, ok := cs.lessons[l.ID]; ok {
			l.TimesApplied = prev.TimesApplied
			l.TimesSuccessful = prev.TimesSuccessful
			l.Confidence = prev.Confidence
		}
		fresh[l.ID] = &l
	}
	cs.lessons = fresh
	log.Printf("[Memory] Loaded %d curated lessons from %s", len(fresh), cs.path)
	return nil
}

// Watch starts a filesystem watcher that hot-reloads the curated file
// on change. Rapid saves are debounced.
func (cs *CuratedStore) Watch() error {
	if cs.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create lesson watcher: %w", err)
	}
	// Watch the directory: editors replace files via rename, which drops
	// a watch on the file itself.
	if err := w.Add(filepath.Dir(cs.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(cs.path), err)
	}
	cs.watcher = w

	go func() {
		defer close(cs.doneCh)
		var pending bool
		debounce := time.NewTicker(500 * time.Millisecond)
		defer debounce.Stop()

		for {
			select {
			case <-cs.stopCh:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(cs.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					pending = true
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("[Memory] Lesson watcher error: %v", err)
			case <-debounce.C:
				if !pending {
					continue
				}
				pending = false
				if err := cs.reload(); err != nil {
					log.Printf("[Memory] Failed to reload curated lessons: %v", err)
				}
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (cs *CuratedStore) Close() error {
	if cs.watcher == nil {
		return nil
	}
	close(cs.stopCh)
	err := cs.watcher.Close()
	<-cs.doneCh
	return err
}

// All returns a snapshot of the curated lessons.
func (cs *CuratedStore) All() []*models.Lesson {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]*models.Lesson, 0, len(cs.lessons))
	for _, l := range cs.lessons {
		out = append(out, l)
	}
	return out
}

// Get returns the curated lesson with the given id, nil if absent.
func (cs *CuratedStore) Get(id string) *models.Lesson {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lessons[id]
}

// RecordUsage updates usage counters on a curated lesson in memory.
// The file itself stays untouched.
func (cs *CuratedStore) RecordUsage(id string, successful bool) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	l, ok := cs.lessons[id]
	if !ok {
		return false
	}
	l.RecordUsage(successful)
	return true
}
