// Package filerelay relays activity between processes on one machine. Every
// endpoint appends JSON lines to <dir>/<channel>.jsonl and watches the file for
// lines written by the others.
package filerelay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/relay"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MaxFileSize is the size past which the next broadcast truncates the file.
const MaxFileSize = 1 << 20

type envelope struct {
	Endpoint string        `json:"endpoint"`
	Message  relay.Message `json:"message"`
}

type Relay struct {
	path     string
	endpoint string
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	writeLock sync.Mutex

	lock   sync.Mutex
	offset int64
	seq    int
	subs   map[int]func(relay.Message)
	closed bool
}

var _ relay.ActivityRelay = (*Relay)(nil)

// New opens the channel file, creating it when missing. Lines already in the
// file are history and are not delivered.
func New(dir, channel string) (*Relay, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "[filerelay.New] create directory")
	}
	path := filepath.Join(dir, channel+".jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "[filerelay.New] open channel file")
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return nil, errors.Wrap(err, "[filerelay.New] stat channel file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "[filerelay.New] fsnotify.NewWatcher")
	}
	// The directory is watched so a file recreated by another process is picked up.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "[filerelay.New] watch directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		path:     path,
		endpoint: uuid.NewString(),
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		offset:   info.Size(),
		subs:     make(map[int]func(relay.Message)),
	}
	go r.processEvents()
	return r, nil
}

// NewOrNoop falls back to a relay that does nothing when the channel file
// cannot be watched.
func NewOrNoop(dir, channel string) relay.ActivityRelay {
	r, err := New(dir, channel)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("activity relay unavailable, sessions will track activity independently")
		return relay.Noop()
	}
	return r
}

func (r *Relay) Broadcast(msg relay.Message) error {
	r.lock.Lock()
	closed := r.closed
	r.lock.Unlock()
	if closed {
		return sessionerrors.ErrRelayClosed
	}

	line, err := json.Marshal(envelope{Endpoint: r.endpoint, Message: msg})
	if err != nil {
		return errors.Wrap(err, "[Relay.Broadcast] marshal")
	}
	line = append(line, '\n')

	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if info, err := os.Stat(r.path); err == nil && info.Size() > MaxFileSize {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(r.path, flags, 0o644)
	if err != nil {
		return errors.Wrap(err, "[Relay.Broadcast] open channel file")
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return errors.Wrap(err, "[Relay.Broadcast] write")
	}
	return nil
}

func (r *Relay) Subscribe(fn func(relay.Message)) func() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.seq++
	id := r.seq
	r.subs[id] = fn
	return func() {
		r.lock.Lock()
		defer r.lock.Unlock()
		delete(r.subs, id)
	}
}

func (r *Relay) Close() error {
	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return nil
	}
	r.closed = true
	r.subs = make(map[int]func(relay.Message))
	r.lock.Unlock()

	r.cancel()
	err := r.watcher.Close()
	<-r.done
	return err
}

func (r *Relay) processEvents() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				r.readNew()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", r.path).Msg("activity relay watch error")
		}
	}
}

// readNew delivers the complete lines appended since the last read. A partial
// trailing line is left for the next write event.
func (r *Relay) readNew() {
	f, err := os.Open(r.path)
	if err != nil {
		log.Debug().Err(err).Str("path", r.path).Msg("activity relay read failed")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}

	r.lock.Lock()
	offset := r.offset
	if info.Size() < offset {
		offset = 0
	}
	r.lock.Unlock()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	var messages []relay.Message
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		offset += int64(len(line))

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Debug().Err(err).Msg("activity relay skipped malformed line")
			continue
		}
		if env.Endpoint == r.endpoint {
			continue
		}
		messages = append(messages, env.Message)
	}

	r.lock.Lock()
	r.offset = offset
	subs := make([]func(relay.Message), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.lock.Unlock()

	for _, msg := range messages {
		for _, fn := range subs {
			fn(msg)
		}
	}
}
