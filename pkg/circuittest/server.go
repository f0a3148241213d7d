package circuittest

import (
	"net/http/httptest"
	"strings"
	"testing"
)

// Server runs a Hub on a local httptest server.
type Server struct {
	*Hub

	// URL is the base URL with a trailing slash, e.g. "http://127.0.0.1:1234/".
	URL string

	srv *httptest.Server
}

// NewServer starts a hub server and closes it when the test ends.
func NewServer(t testing.TB, cfg *Config) *Server {
	t.Helper()
	hub := NewHub(cfg)
	srv := httptest.NewServer(hub)
	s := &Server{Hub: hub, URL: srv.URL + "/", srv: srv}
	t.Cleanup(s.Close)
	return s
}

// ServiceURL returns the absolute hub endpoint URL.
func (s *Server) ServiceURL() string {
	return s.URL + strings.TrimPrefix(s.config.ServicePath, "/")
}

// Close drops every peer and shuts the server down.
func (s *Server) Close() {
	for _, p := range s.Peers() {
		p.Drop()
	}
	s.srv.Close()
}
