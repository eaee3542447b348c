package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// notifier listens for filesystem events under the projects directory
// and queues touched .jsonl paths for the next poll cycle. It only
// lowers discovery latency; the poll loop's directory scan remains the
// source of truth, so losing notifications is harmless.
type notifier struct {
	fw   *fsnotify.Watcher
	done chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
}

func newNotifier(projectsPath string) (*notifier, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	n := &notifier{
		fw:      fw,
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}

	if err := fw.Add(projectsPath); err != nil {
		fw.Close()
		return nil, err
	}
	// fsnotify is not recursive; watch each existing project dir.
	entries, err := os.ReadDir(projectsPath)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				if err := fw.Add(filepath.Join(projectsPath, e.Name())); err != nil {
					log.Printf("[watcher] fsnotify add %s: %v", e.Name(), err)
				}
			}
		}
	}

	go n.loop()
	return n, nil
}

func (n *notifier) loop() {
	for {
		select {
		case ev, ok := <-n.fw.Events:
			if !ok {
				return
			}
			n.handle(ev)
		case err, ok := <-n.fw.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] fsnotify: %v", err)
		case <-n.done:
			return
		}
	}
}

func (n *notifier) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if strings.HasSuffix(ev.Name, ".jsonl") {
		n.mu.Lock()
		n.pending[ev.Name] = struct{}{}
		n.mu.Unlock()
		return
	}
	if ev.Op&fsnotify.Create != 0 {
		// A new project directory; watch it for session files.
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := n.fw.Add(ev.Name); err != nil {
				log.Printf("[watcher] fsnotify add %s: %v", ev.Name, err)
			}
		}
	}
}

// drain returns and clears the queued paths.
func (n *notifier) drain() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) == 0 {
		return nil
	}
	paths := make([]string, 0, len(n.pending))
	for p := range n.pending {
		paths = append(paths, p)
	}
	n.pending = make(map[string]struct{})
	return paths
}

func (n *notifier) close() {
	close(n.done)
	n.fw.Close()
}
