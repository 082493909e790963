// Package tail feeds live log files into the ingestion queue. Each watched
// file keeps a byte offset; appended data is split into lines and enqueued
// as entries carrying the offset they were read from.
package tail

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/loglane/backend/internal/core"
)

// Sink accepts tailed entries; the ingestion queue implements it.
type Sink interface {
	Enqueue(entry *core.LogEntry) bool
}

// Source is one watched file.
type Source struct {
	Path     string
	Name     string // source name for entries, defaults to the base name
	Priority core.Priority
}

// Tailer watches files and forwards appended lines to the sink.
type Tailer struct {
	clock   core.Clock
	sink    Sink
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	sources map[string]*tailState
	started bool

	done chan struct{}
	wg   sync.WaitGroup

	logger *log.Logger
}

type tailState struct {
	source Source
	offset int64
}

// New builds a tailer feeding the sink.
func New(clock core.Clock, sink Sink) (*Tailer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	return &Tailer{
		clock:   clock,
		sink:    sink,
		watcher: watcher,
		sources: make(map[string]*tailState),
		done:    make(chan struct{}),
		logger:  log.New(log.Writer(), "[TAIL] ", log.LstdFlags),
	}, nil
}

// Watch registers a file and starts from its current end, so only new lines
// flow into the pipeline.
func (t *Tailer) Watch(src Source) error {
	abs, err := filepath.Abs(src.Path)
	if err != nil {
		return err
	}
	src.Path = abs
	if src.Name == "" {
		src.Name = filepath.Base(abs)
	}
	if src.Priority == 0 {
		src.Priority = core.PriorityMedium
	}

	offset := int64(0)
	if fi, err := os.Stat(abs); err == nil {
		offset = fi.Size()
	}

	t.mu.Lock()
	t.sources[abs] = &tailState{source: src, offset: offset}
	t.mu.Unlock()

	if err := t.watcher.Add(abs); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	t.logger.Printf("watching %s from offset %d", abs, offset)
	return nil
}

// Start launches the event loop. Idempotent.
func (t *Tailer) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop()
}

// Stop halts the event loop and closes the watcher.
func (t *Tailer) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.mu.Unlock()

	close(t.done)
	t.watcher.Close()
	t.wg.Wait()
}

func (t *Tailer) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Write != 0 {
				t.consume(ev.Name)
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				t.reset(ev.Name)
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Printf("watch error: %v", err)
		}
	}
}

// consume reads from the saved offset to EOF and enqueues complete lines.
func (t *Tailer) consume(path string) {
	t.mu.Lock()
	state, ok := t.sources[path]
	t.mu.Unlock()
	if !ok {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		t.logger.Printf("open %s: %v", path, err)
		return
	}
	defer f.Close()

	// Truncation rewinds the offset.
	if fi, err := f.Stat(); err == nil && fi.Size() < state.offset {
		state.offset = 0
	}
	if _, err := f.Seek(state.offset, io.SeekStart); err != nil {
		t.logger.Printf("seek %s: %v", path, err)
		return
	}

	reader := bufio.NewReader(f)
	offset := state.offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial last line stays for the next write event.
			break
		}
		lineStart := offset
		offset += int64(len(line))
		content := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		entry := core.NewLogEntry(t.clock, content, path, state.source.Name, state.source.Priority)
		entry.FileOffset = lineStart
		if !t.sink.Enqueue(entry) {
			t.logger.Printf("queue rejected line from %s at offset %d", path, lineStart)
		}
	}

	t.mu.Lock()
	state.offset = offset
	t.mu.Unlock()
}

// reset drops the offset after rotation so the recreated file tails from the
// top.
func (t *Tailer) reset(path string) {
	t.mu.Lock()
	if state, ok := t.sources[path]; ok {
		state.offset = 0
	}
	t.mu.Unlock()
	// Re-add in case the file is recreated under the same name.
	if err := t.watcher.Add(path); err != nil {
		t.logger.Printf("rewatch %s: %v", path, err)
	}
}
