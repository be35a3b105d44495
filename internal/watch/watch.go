// Package watch drives re-analysis on IR document changes. It wraps
// fsnotify and coalesces event bursts per path: editors produce
// several writes per save, re-analysis wants one.
package watch

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op classifies a file event. Ops combine as a bit set when a burst
// touches the same path in several ways.
type Op int

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (o Op) String() string {
	var parts []string
	if o&OpCreate != 0 {
		parts = append(parts, "create")
	}
	if o&OpWrite != 0 {
		parts = append(parts, "write")
	}
	if o&OpRemove != 0 {
		parts = append(parts, "remove")
	}
	if o&OpRename != 0 {
		parts = append(parts, "rename")
	}
	if o&OpChmod != 0 {
		parts = append(parts, "chmod")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Touches reports whether the event implies changed content: chmod
// alone does not.
func (o Op) Touches() bool {
	return o&(OpCreate|OpWrite|OpRemove|OpRename) != 0
}

// Event is one coalesced change notification.
type Event struct {
	Path string
	Op   Op
}

// DefaultDebounce is the quiet period used when no interval is given.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports debounced file changes.
type Watcher struct {
	fw       *fsnotify.Watcher
	events   chan Event
	errs     chan error
	done     chan struct{}
	interval time.Duration
	closing  sync.Once
}

// New creates a watcher that flushes once a path has been quiet for
// interval; non-positive means DefaultDebounce.
func New(interval time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultDebounce
	}
	w := &Watcher{
		fw:       fw,
		events:   make(chan Event, 16),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		interval: interval,
	}
	go w.loop()
	return w, nil
}

// Events returns the coalesced change stream.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns watcher failures. The channel keeps only the most
// recent unread error.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Add starts watching the named file or directory.
func (w *Watcher) Add(name string) error { return w.fw.Add(name) }

// Remove stops watching the named file or directory.
func (w *Watcher) Remove(name string) error { return w.fw.Remove(name) }

// Close stops the watcher. Pending undelivered events are dropped.
func (w *Watcher) Close() error {
	w.closing.Do(func() { close(w.done) })
	return w.fw.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = make(map[string]Op)
		order   []string
	)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			op := opFrom(ev.Op)
			if op == 0 {
				continue
			}
			if _, seen := pending[ev.Name]; !seen {
				order = append(order, ev.Name)
			}
			pending[ev.Name] |= op
			if timer == nil {
				timer = time.NewTimer(w.interval)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.interval)
			}
			timerC = timer.C
		case <-timerC:
			for _, path := range order {
				select {
				case w.events <- Event{Path: path, Op: pending[path]}:
				case <-w.done:
					return
				}
			}
			pending = make(map[string]Op)
			order = order[:0]
			timerC = nil
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

func opFrom(op fsnotify.Op) Op {
	var out Op
	if op&fsnotify.Create != 0 {
		out |= OpCreate
	}
	if op&fsnotify.Write != 0 {
		out |= OpWrite
	}
	if op&fsnotify.Remove != 0 {
		out |= OpRemove
	}
	if op&fsnotify.Rename != 0 {
		out |= OpRename
	}
	if op&fsnotify.Chmod != 0 {
		out |= OpChmod
	}
	return out
}
