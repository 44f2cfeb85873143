package tmux

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	readChunkSize = 32 * 1024
	aliveTimeout  = 5 * time.Second
)

// tailer follows a pane log file from an offset and forwards what is
// appended. fsnotify gives prompt wakeups; the poll ticker catches missed
// events and checks that the pane is still alive.
type tailer struct {
	file   *os.File
	offset int64
	poll   time.Duration
	alive  func(context.Context) bool
	out    chan<- []byte
}

// run tails until ctx is cancelled or the pane is gone. It closes out and
// the file on return. Output written before the pane went away is delivered
// first.
func (t *tailer) run(ctx context.Context) {
	defer close(t.out)
	defer t.file.Close()

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Str("path", t.file.Name()).Msg("fsnotify unavailable, polling pane log")
	} else {
		defer watcher.Close()
		if err := watcher.Add(t.file.Name()); err != nil {
			log.Warn().Err(err).Str("path", t.file.Name()).Msg("failed to watch pane log, polling")
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	// Anything already past the offset goes out first.
	if !t.drain(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if !t.drain(ctx) {
					return
				}
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Str("path", t.file.Name()).Msg("pane log watcher error")

		case <-ticker.C:
			if !t.drain(ctx) {
				return
			}
			if !t.isAlive(ctx) {
				t.drain(ctx)
				log.Debug().Str("path", t.file.Name()).Msg("pane gone, stopping tail")
				return
			}
		}
	}
}

func (t *tailer) isAlive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, aliveTimeout)
	defer cancel()
	return t.alive(ctx)
}

// drain forwards everything between the offset and the end of the file.
// It returns false if ctx ended while sending.
func (t *tailer) drain(ctx context.Context) bool {
	if info, err := t.file.Stat(); err == nil && info.Size() < t.offset {
		// Truncated underneath us; start over.
		t.offset = 0
	}

	for {
		buf := make([]byte, readChunkSize)
		n, err := t.file.ReadAt(buf, t.offset)
		if n > 0 {
			t.offset += int64(n)
			select {
			case t.out <- buf[:n]:
			case <-ctx.Done():
				return false
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("path", t.file.Name()).Msg("failed to read pane log")
			}
			return true
		}
		if n == 0 {
			return true
		}
	}
}
