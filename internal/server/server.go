// Package server exposes the pipeline over HTTP: Prometheus metrics, a
// sessions API, and a websocket event feed.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claudewatch/claudewatch/internal/metrics"
	"github.com/claudewatch/claudewatch/internal/watcher"
)

// DefaultListen is where the HTTP server binds unless configured.
const DefaultListen = "0.0.0.0:9090"

type Server struct {
	watcher *watcher.Watcher
	metrics *metrics.Metrics
	hub     *Hub

	httpSrv *http.Server
}

// New wires the server. metrics may be nil, which disables /metrics.
func New(w *watcher.Watcher, m *metrics.Metrics, listen string) *Server {
	if listen == "" {
		listen = DefaultListen
	}
	s := &Server{
		watcher: w,
		metrics: m,
		hub:     NewHub(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)
	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the websocket hub; register it on the watcher to feed
// connected clients.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes(mux *http.ServeMux) {
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWS)
}

// ListenAndServe blocks until ctx is canceled, then shuts down with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleSessions serves live session summaries when live tracking is
// on, otherwise the watcher's per-session counters.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if live := s.watcher.Live(); live != nil {
		now := time.Now()
		sessions := live.ActiveSessions()
		summaries := make([]watcher.Summary, 0, len(sessions))
		for _, ls := range sessions {
			summaries = append(summaries, ls.Summarize(now))
		}
		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].SessionID < summaries[j].SessionID
		})
		json.NewEncoder(w).Encode(summaries)
		return
	}
	json.NewEncoder(w).Encode(s.watcher.AllStats())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := struct {
		Sessions      []watcher.Stats `json:"sessions"`
		DroppedEvents uint64          `json:"dropped_events"`
		HostProcesses int             `json:"host_processes"`
	}{
		Sessions:      s.watcher.AllStats(),
		DroppedEvents: s.watcher.DroppedEvents(),
		HostProcesses: s.watcher.HostProcessCount(),
	}
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] ws upgrade: %v", err)
		return
	}

	log.Printf("[server] ws client connected: %s", r.RemoteAddr)
	c := s.hub.add(conn)

	go func() {
		defer func() {
			s.hub.remove(c)
			log.Printf("[server] ws client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// checkOrigin admits same-host and loopback origins; browsers on other
// hosts are rejected.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	switch {
	case host == "localhost" || strings.HasPrefix(host, "localhost:"):
		return true
	case host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:"):
		return true
	case host == "::1" || strings.HasPrefix(host, "[::1]:"):
		return true
	}
	return false
}
