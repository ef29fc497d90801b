// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailui

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces bursts of filesystem events into a single
// refresh. Signal files are replaced atomically (write-then-rename),
// which fires several events per update.
const debounceInterval = 100 * time.Millisecond

// SignalWatcher turns updates of one agent's signal file into refresh
// ticks. The watch is placed on the containing directory because the
// file itself is replaced by rename on every update.
type SignalWatcher struct {
	watcher *fsnotify.Watcher
	events  chan struct{}
	done    chan struct{}
}

// NewSignalWatcher watches the signal file at path. The directory must
// exist; the file itself may not yet.
func NewSignalWatcher(path string) (*SignalWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &SignalWatcher{
		watcher: watcher,
		events:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run(filepath.Base(path))
	return w, nil
}

// Events delivers one tick per coalesced signal-file update. The
// channel has capacity one; ticks arriving while the consumer is busy
// merge into the pending one.
func (w *SignalWatcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watch.
func (w *SignalWatcher) Close() {
	close(w.done)
	w.watcher.Close()
}

func (w *SignalWatcher) run(name string) {
	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceInterval)
				pending = timer.C
			} else {
				timer.Reset(debounceInterval)
			}
		case <-pending:
			timer = nil
			pending = nil
			select {
			case w.events <- struct{}{}:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}
