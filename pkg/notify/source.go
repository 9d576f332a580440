package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// DefaultRenameWindow is how long the source waits for the create half of a
// rename before degrading the pending half to a standalone event.
const DefaultRenameWindow = 50 * time.Millisecond

// Options tune a Source.
type Options struct {
	// RenameWindow overrides DefaultRenameWindow when positive.
	RenameWindow time.Duration
}

// Source watches a directory tree recursively and delivers Events in the
// order the platform reports them. The platform never reports both rename
// endpoints as one notification, so the source pairs a rename-half with the
// immediately following create; everything downstream of the events channel
// stays free of such bookkeeping.
type Source struct {
	root         string
	watcher      *fsnotify.Watcher
	renameWindow time.Duration

	events chan Event
	errs   chan error
}

// NewSource creates a Source for the directory tree rooted at root. The root
// must be an existing directory; it is watched only after Start.
func NewSource(root string, opts Options) (*Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	window := opts.RenameWindow
	if window <= 0 {
		window = DefaultRenameWindow
	}

	return &Source{
		root:         root,
		watcher:      watcher,
		renameWindow: window,
		events:       make(chan Event, 64),
		errs:         make(chan error, 8),
	}, nil
}

// Events returns the channel of change events. It is closed when the source
// shuts down, which signals the end of the sequence to the consumer.
func (s *Source) Events() <-chan Event {
	return s.events
}

// Errors returns the channel of source-level errors. These are transient:
// delivery continues after an error.
func (s *Source) Errors() <-chan error {
	return s.errs
}

// Start registers the whole tree with the platform watcher and begins
// delivering events.
func (s *Source) Start() error {
	// The platform watches single directories, so every directory of the
	// tree is registered; directories created later are armed on their
	// create event.
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			plog.Warn("Error accessing path while arming watches, skipping", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		s.watcher.Close()
		return err
	}

	go s.run()
	return nil
}

// Close unregisters the watch and shuts the source down; the events channel
// closes once the remaining notifications are drained.
func (s *Source) Close() error {
	return s.watcher.Close()
}

// run pumps platform notifications into classified Events until the watcher
// closes.
func (s *Source) run() {
	defer close(s.events)

	for {
		select {
		case raw, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.dispatch(raw)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.reportError(err)
		}
	}
}

// dispatch converts one platform notification, pairing rename halves with
// their trailing create.
func (s *Source) dispatch(raw fsnotify.Event) {
	switch {
	case raw.Op.Has(fsnotify.Create):
		s.armIfDir(raw.Name)
		s.emit(Event{Kind: KindCreate, Paths: []string{raw.Name}})
	case raw.Op.Has(fsnotify.Remove):
		s.emit(Event{Kind: KindRemove, Paths: []string{raw.Name}})
	case raw.Op.Has(fsnotify.Rename):
		s.dispatchRename(raw)
	case raw.Op.Has(fsnotify.Write):
		s.emit(Event{Kind: KindModifyData, Paths: []string{raw.Name}})
	case raw.Op.Has(fsnotify.Chmod):
		s.emit(Event{Kind: KindModifyMeta, Paths: []string{raw.Name}})
	default:
		s.emit(Event{Kind: KindUnrecognized, Paths: []string{raw.Name}})
	}
}

// dispatchRename waits briefly for the create that completes a rename. When
// it arrives in time, one two-path rename event is emitted; otherwise the
// old endpoint degrades to a rename-half and any unrelated buffered
// notification is dispatched normally.
func (s *Source) dispatchRename(raw fsnotify.Event) {
	timer := time.NewTimer(s.renameWindow)
	defer timer.Stop()

	select {
	case next, ok := <-s.watcher.Events:
		if ok && next.Op.Has(fsnotify.Create) {
			s.armIfDir(next.Name)
			s.emit(Event{Kind: KindRename, Paths: []string{raw.Name, next.Name}})
			return
		}
		s.emit(Event{Kind: KindRenameHalf, Paths: []string{raw.Name}})
		if ok {
			s.dispatch(next)
		}
	case <-timer.C:
		s.emit(Event{Kind: KindRenameHalf, Paths: []string{raw.Name}})
	}
}

// armIfDir registers a newly created directory with the platform watcher so
// changes beneath it are observed too.
func (s *Source) armIfDir(path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := s.watcher.Add(path); err != nil {
		s.reportError(fmt.Errorf("failed to watch new directory %s: %w", path, err))
	}
}

func (s *Source) emit(ev Event) {
	s.events <- ev
}

// reportError forwards a source-level error without ever blocking event
// delivery behind a slow error consumer.
func (s *Source) reportError(err error) {
	select {
	case s.errs <- err:
	default:
		plog.Warn("Watch error dropped, error channel full", "error", err)
	}
}
