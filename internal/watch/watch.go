// Package watch rebuilds pages as files under the docs root change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event types.
const (
	EventUpdated = "updated"
	EventRemoved = "removed"
	EventFailed  = "failed"
)

// Event describes the outcome of handling one file change.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
}

// Updater brings the output for a root-relative path up to date.
type Updater interface {
	Update(ctx context.Context, rel string) error
}

// Options configure a Service.
type Options struct {
	IncludeHidden bool
	// Ignore lists absolute directories that are never watched, such as an
	// output directory nested in the root.
	Ignore []string
}

// Service watches a directory tree and forwards changes to an Updater.
type Service struct {
	ctx         context.Context
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
	updater     Updater
	cancel      context.CancelFunc
	subscribers map[uint64]*subscriber
	root        string
	opts        Options
	subCounter  atomic.Uint64
	subsMu      sync.RWMutex
	done        chan struct{}
}

type subscriber struct {
	ctx context.Context
	ch  chan Event
}

// New starts watching root. Changes are handled one at a time until ctx is
// cancelled or Close is called.
func New(parentCtx context.Context, root string, updater Updater, logger *slog.Logger, opts Options) (*Service, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if updater == nil {
		return nil, errors.New("updater must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	svc := &Service{
		root:        absRoot,
		updater:     updater,
		opts:        opts,
		logger:      logger.With("component", "watch"),
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[uint64]*subscriber),
		done:        make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	svc.watcher = watcher

	if err := svc.watchRecursive(absRoot); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}

	go svc.run()
	return svc, nil
}

// Close stops the watcher and waits for the event loop to exit.
func (s *Service) Close() error {
	s.cancel()
	err := s.watcher.Close()
	<-s.done
	return err
}

// Done is closed once the event loop has exited.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Subscribe returns a channel receiving an Event per handled change. The
// channel is closed when ctx ends or the service stops. Slow subscribers miss
// events rather than blocking the watcher.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	id := s.subCounter.Add(1)

	s.subsMu.Lock()
	s.subscribers[id] = &subscriber{ctx: ctx, ch: ch}
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.removeSubscriber(id)
	}()
	return ch
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if event.Name == "" || event.Op == fsnotify.Chmod || s.ignored(event.Name) {
		return
	}

	rel := s.relativePath(event.Name)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return
	}
	s.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", event.Op.String()))

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = s.watchRecursive(event.Name)
		}
	}

	evt := Event{Type: EventUpdated, Path: rel, Timestamp: time.Now()}
	if err := s.updater.Update(s.ctx, rel); err != nil {
		evt.Type = EventFailed
		evt.Err = err
		s.logger.Error("rebuild failed", slog.String("path", rel), slog.Any("err", err))
	} else if _, err := os.Stat(event.Name); errors.Is(err, fs.ErrNotExist) {
		evt.Type = EventRemoved
		s.logger.Info("removed", slog.String("path", rel))
	} else {
		s.logger.Info("rebuilt", slog.String("path", rel))
	}
	s.broadcast(evt)
}

func (s *Service) broadcast(evt Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case <-sub.ctx.Done():
		case sub.ch <- evt:
		default:
			// drop event when subscriber lags
		}
	}
}

func (s *Service) removeSubscriber(id uint64) {
	s.subsMu.Lock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
	}
	s.subsMu.Unlock()
}

func (s *Service) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && (s.ignored(path) || (!s.opts.IncludeHidden && strings.HasPrefix(d.Name(), "."))) {
			return filepath.SkipDir
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
		}
		return nil
	})
}

func (s *Service) ignored(path string) bool {
	for _, dir := range s.opts.Ignore {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Service) relativePath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
