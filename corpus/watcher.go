package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a batch of changes is reported.
const DefaultDebounce = 500 * time.Millisecond

// Change is one debounced batch of corpus file changes.
type Change struct {
	Paths []string
}

// Watcher watches the corpus directory tree and reports YAML changes.
// Saves that leave a file's content unchanged are not reported.
type Watcher struct {
	root     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	hashMu sync.Mutex
	hashes map[string]string

	changes chan Change
}

// NewWatcher creates a watcher rooted at dir.
func NewWatcher(dir string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     dir,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[string]fsnotify.Op),
		hashes:   make(map[string]string),
		changes:  make(chan Change, 16),
	}, nil
}

// Changes returns the channel of debounced changes. It is closed when the
// watcher stops.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Start adds watches for the tree and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.root); err != nil {
		return err
	}
	w.seedHashes()

	go w.processEvents(ctx)

	w.logger.Info("Corpus watcher started",
		"root", w.root,
		"debounce", w.debounce)
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func isCorpusFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func skipDir(path, root string) bool {
	base := filepath.Base(path)
	return path != root && strings.HasPrefix(base, ".")
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if skipDir(path, w.root) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", path,
				"error", err)
		}
		return nil
	})
}

// seedHashes records the content of the files present at start so the
// first touch without edits is not reported.
func (w *Watcher) seedHashes() {
	_ = filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !isCorpusFile(path) {
			return nil
		}
		if data, err := os.ReadFile(path); err == nil {
			w.setHash(path, contentHash(data))
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.changes)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Corpus watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name
	if !isCorpusFile(path) {
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() && !skipDir(path, w.root) {
				if err := w.watcher.Add(path); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
				}
			}
		}
		return
	}

	w.pendingMu.Lock()
	w.pending[path] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Corpus change detected", "path", path, "op", event.Op.String())
}

func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	var changed []string
	for path := range batch {
		data, err := os.ReadFile(path)
		if err != nil {
			// Removed or renamed away.
			if w.dropHash(path) {
				changed = append(changed, path)
			}
			continue
		}
		if w.setHash(path, contentHash(data)) {
			changed = append(changed, path)
		}
	}
	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)

	select {
	case w.changes <- Change{Paths: changed}:
	case <-ctx.Done():
	}
}

// setHash stores the hash and reports whether it differs from the last one.
func (w *Watcher) setHash(path, hash string) bool {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	old, ok := w.hashes[path]
	w.hashes[path] = hash
	return !ok || old != hash
}

func (w *Watcher) dropHash(path string) bool {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	_, ok := w.hashes[path]
	delete(w.hashes, path)
	return ok
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Run reloads through reload after every change until ctx is done. Reload
// failures are logged and the previous corpus stays in effect.
func (w *Watcher) Run(ctx context.Context, reload func(context.Context) error) {
	for change := range w.Changes() {
		if err := reload(ctx); err != nil {
			w.logger.Warn("Corpus reload failed",
				"paths", change.Paths,
				"error", err)
			continue
		}
		w.logger.Info("Corpus reloaded", "paths", change.Paths)
	}
}
