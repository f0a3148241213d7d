package circuit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
)

func bootServer(t *testing.T, missing string) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		switch r.URL.Path {
		case missing:
			http.NotFound(w, r)
		case "/app/boot.json":
			_, _ = w.Write([]byte(`{"resources":["app.js","/static/site.css"]}`))
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := append([]string(nil), paths...)
		sort.Strings(out)
		return out
	}
}

func TestHTTPBootLoader(t *testing.T) {
	srv, paths := bootServer(t, "")

	l := &HTTPBootLoader{
		ConfigURL: srv.URL + "/app/boot.json",
		Resources: []string{srv.URL + "/extra.js"},
		Client:    srv.Client(),
	}
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []string{"/app/app.js", "/app/boot.json", "/extra.js", "/static/site.css"}
	got := paths()
	if len(got) != len(want) {
		t.Fatalf("fetched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fetched %v, want %v", got, want)
			break
		}
	}
}

func TestHTTPBootLoaderMissingResource(t *testing.T) {
	srv, _ := bootServer(t, "/static/site.css")

	l := &HTTPBootLoader{ConfigURL: srv.URL + "/app/boot.json", Client: srv.Client(), Concurrency: 1}
	if err := l.Load(context.Background()); err == nil {
		t.Fatal("Load() = nil with a missing resource")
	}
}

func TestHTTPBootLoaderMissingConfig(t *testing.T) {
	srv, _ := bootServer(t, "/app/boot.json")

	l := &HTTPBootLoader{ConfigURL: srv.URL + "/app/boot.json", Client: srv.Client()}
	if err := l.Load(context.Background()); err == nil {
		t.Fatal("Load() = nil with a missing boot config")
	}
}
