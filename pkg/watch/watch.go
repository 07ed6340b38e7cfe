// Package watch reports changes to source files so programs can be rerun
// when they are edited.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is a set of file operations.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Event is one change to a watched path.
type Event struct {
	Path string
	Op   Op
}

// Watcher delivers file change events.
type Watcher interface {
	Events() <-chan Event
	Errors() <-chan error
	Add(name string) error
	Remove(name string) error
	Close() error
}

// FSWatcher implements Watcher using fsnotify for OS-native notifications.
type FSWatcher struct {
	w    *fsnotify.Watcher
	evC  chan Event
	erC  chan error
	done chan struct{}
	once sync.Once
}

// NewFSWatcher creates a new FSWatcher.
func NewFSWatcher() (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FSWatcher{
		w:    w,
		evC:  make(chan Event, 128),
		erC:  make(chan error, 1),
		done: make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

func (fw *FSWatcher) loop() {
	defer close(fw.evC)
	defer close(fw.erC)

	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			select {
			case fw.evC <- Event{Path: ev.Name, Op: convertOp(ev.Op)}:
			case <-fw.done:
				return
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			select {
			case fw.erC <- err:
			case <-fw.done:
				return
			}
		case <-fw.done:
			return
		}
	}
}

func convertOp(in fsnotify.Op) Op {
	var op Op
	if in&fsnotify.Create != 0 {
		op |= OpCreate
	}
	if in&fsnotify.Write != 0 {
		op |= OpWrite
	}
	if in&fsnotify.Remove != 0 {
		op |= OpRemove
	}
	if in&fsnotify.Rename != 0 {
		op |= OpRename
	}
	if in&fsnotify.Chmod != 0 {
		op |= OpChmod
	}
	return op
}

func (fw *FSWatcher) Events() <-chan Event     { return fw.evC }
func (fw *FSWatcher) Errors() <-chan error     { return fw.erC }
func (fw *FSWatcher) Add(name string) error    { return fw.w.Add(name) }
func (fw *FSWatcher) Remove(name string) error { return fw.w.Remove(name) }

// Close stops the watcher and closes its channels.
func (fw *FSWatcher) Close() error {
	var err error
	fw.once.Do(func() {
		close(fw.done)
		err = fw.w.Close()
	})
	return err
}

// DefaultDebounce groups the burst of events an editor produces for one
// save.
const DefaultDebounce = 50 * time.Millisecond

// File calls onChange each time path is written or replaced, until ctx is
// done or the watcher fails. Events arriving within debounce of each other
// are reported once. The directory holding path is watched so that
// editors replacing the file by rename are still seen.
func File(ctx context.Context, w Watcher, path string, debounce time.Duration, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if ev.Op&(OpWrite|OpCreate|OpRename) == 0 {
				continue
			}
			if evAbs, err := filepath.Abs(ev.Path); err != nil || evAbs != abs {
				continue
			}
			fire = time.After(debounce)

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			return err

		case <-fire:
			fire = nil
			onChange()
		}
	}
}
