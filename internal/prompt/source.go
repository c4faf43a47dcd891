// ABOUTME: System prompt source, static or file-backed with live reload
// ABOUTME: Watches the prompt file's directory with fsnotify and debounces reloads

package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPrompt is used when no prompt is configured.
const DefaultPrompt = "You are a helpful WhatsApp assistant. Keep replies short and friendly, like a real chat."

const reloadDebounce = 100 * time.Millisecond

// Source returns the current system prompt.
type Source struct {
	mu     sync.RWMutex
	prompt string

	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	debounceMu sync.Mutex
	debounce   *time.Timer
	done       chan struct{}
	closeOnce  sync.Once
}

// Static returns a source that always yields text (or DefaultPrompt if empty).
func Static(text string) *Source {
	if strings.TrimSpace(text) == "" {
		text = DefaultPrompt
	}
	return &Source{prompt: text}
}

// FromFile loads the prompt from path and reloads it whenever the file
// changes. Close stops watching.
func FromFile(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		path:   path,
		logger: logger.With("component", "prompt", "path", path),
		done:   make(chan struct{}),
	}

	text, err := readPrompt(path)
	if err != nil {
		return nil, err
	}
	s.prompt = text

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating prompt watcher: %w", err)
	}
	// Editors replace files on save; watching the directory survives renames.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching prompt directory: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop()
	return s, nil
}

// Get returns the current prompt.
func (s *Source) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// Close stops the file watcher. It is safe to call on static sources and
// more than once.
func (s *Source) Close() error {
	if s.watcher == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.debounceMu.Lock()
		if s.debounce != nil {
			s.debounce.Stop()
		}
		s.debounceMu.Unlock()
		err = s.watcher.Close()
	})
	return err
}

func (s *Source) watchLoop() {
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.scheduleReload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("prompt watcher error", "error", err)
		}
	}
}

func (s *Source) scheduleReload() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(reloadDebounce, s.reload)
}

func (s *Source) reload() {
	text, err := readPrompt(s.path)
	if err != nil {
		s.logger.Warn("keeping previous system prompt", "error", err)
		return
	}

	s.mu.Lock()
	changed := text != s.prompt
	s.prompt = text
	s.mu.Unlock()

	if changed {
		s.logger.Info("system prompt reloaded", "length", len(text))
	}
}

func readPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("prompt file is empty")
	}
	return text, nil
}
