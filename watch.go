package meiliguard

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// StatusEvent is delivered by WatchStatus on each observed change
type StatusEvent struct {
	// Status is the decoded record
	Status GuardStatus
	// Err is set when reading or watching failed
	Err error
}

// WatchCleanupFunc stops a watch and releases its resources. It is safe to call more than once.
type WatchCleanupFunc func() error

// watchState manages the state of a watch operation
type watchState struct {
	mu        sync.Mutex
	lastRaw   [StatusFileSize]byte
	seen      bool
	debouncer *time.Timer
}

// WatchStatus reports changes to the status record in dir. The current
// record, if any, is delivered first. dir must exist.
func WatchStatus(ctx context.Context, dir string, debounce time.Duration) (<-chan StatusEvent, WatchCleanupFunc, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, &OpError{Op: OpStatus, Path: dir, Err: err}
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, &OpError{Op: OpStatus, Path: dir, Err: err}
	}

	ch := make(chan StatusEvent, 10)

	sctx := stopper.WithContext(ctx)

	state := &watchState{}

	sctx.Defer(func() {
		state.mu.Lock()
		if state.debouncer != nil {
			state.debouncer.Stop()
		}
		state.mu.Unlock()
		_ = watcher.Close()
	})

	var cleanupOnce sync.Once
	var cleanupErr error
	cleanup := func() error {
		cleanupOnce.Do(func() {
			sctx.Stop(100 * time.Millisecond)
			cleanupErr = sctx.Wait()
		})
		return cleanupErr
	}

	send := func(ev StatusEvent) {
		if sctx.IsStopping() {
			return
		}
		select {
		case ch <- ev:
		case <-sctx.Stopping():
		}
	}

	readAndSend := func() {
		if sctx.IsStopping() {
			return
		}

		st, err := ReadStatus(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				send(StatusEvent{Err: err})
			}
			return
		}

		state.mu.Lock()
		changed := !state.seen || !bytes.Equal(st.Raw[:], state.lastRaw[:])
		state.lastRaw = st.Raw
		state.seen = true
		state.mu.Unlock()

		if changed {
			send(StatusEvent{Status: st})
		}
	}

	readAndSend()

	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != StatusFile {
					continue
				}

				state.mu.Lock()
				if state.debouncer != nil {
					state.debouncer.Stop()
				}
				state.debouncer = time.AfterFunc(debounce, readAndSend)
				state.mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					send(StatusEvent{Err: err})
				}
			}
		}
	})

	return ch, cleanup, nil
}

// WaitStatus blocks until the record in dir reaches one of states, or any
// terminal state, and returns it. An empty states waits for any change.
func WaitStatus(ctx context.Context, dir string, states ...GuardState) (GuardStatus, error) {
	events, cleanup, err := WatchStatus(ctx, dir, 0)
	if err != nil {
		return GuardStatus{}, err
	}
	defer func() { _ = cleanup() }()

	for {
		select {
		case event := <-events:
			if event.Err != nil {
				return GuardStatus{}, event.Err
			}
			if len(states) == 0 || event.Status.State.Terminal() {
				return event.Status, nil
			}
			for _, target := range states {
				if event.Status.State == target {
					return event.Status, nil
				}
			}
		case <-ctx.Done():
			return GuardStatus{}, ctx.Err()
		}
	}
}
