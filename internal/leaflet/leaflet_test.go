package leaflet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluque/prospecto/internal/log"
)

const leafletHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Prospecto</title>
  <style>body { color: red; }</style>
  <script>console.log("tracking");</script>
</head>
<body>
  <header>CIMA portal header</header>
  <nav>Home | Search</nav>
  <h1>Prospecto: informaci&oacute;n para el usuario</h1>
  <p>Ibuprofeno 600 mg comprimidos</p>
  <p>Lea todo el prospecto detenidamente.</p>
  <footer>AEMPS footer</footer>
</body>
</html>`

func newTestFetcher(t *testing.T, baseURL string, opts ...func(*Config)) *Fetcher {
	t.Helper()

	cfg := Config{
		URLTemplate: baseURL + "/dochtml/p/%s/P_%s.html",
		Logger:      log.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func TestNew_ValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Logger: log.NewNop()})
	require.Error(t, err, "missing template")

	_, err = New(Config{URLTemplate: "http://x/%s", Logger: log.NewNop()})
	require.Error(t, err, "template must have two verbs")

	_, err = New(Config{URLTemplate: "http://x/%s/%s"})
	require.Error(t, err, "missing logger")
}

func TestFetch_ExtractsVisibleText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dochtml/p/62980/P_62980.html", r.URL.Path)
		_, _ = w.Write([]byte(leafletHTML))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	text, ok := f.Fetch(context.Background(), "62980")

	require.True(t, ok)
	assert.Contains(t, text, "Prospecto: información para el usuario")
	assert.Contains(t, text, "Ibuprofeno 600 mg comprimidos")
	assert.Contains(t, text, "Lea todo el prospecto detenidamente.")

	// Non-content markup must be stripped.
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "CIMA portal header")
	assert.NotContains(t, text, "Home | Search")
	assert.NotContains(t, text, "AEMPS footer")

	// Paragraphs stay on separate lines.
	lines := strings.Split(text, "\n")
	assert.GreaterOrEqual(t, len(lines), 3)
}

func TestFetch_TruncatesToMaxChars(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ñ", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", long)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, func(c *Config) { c.MaxChars = 100 })
	text, ok := f.Fetch(context.Background(), "1")

	require.True(t, ok)
	assert.Equal(t, 100, len([]rune(text)))
	assert.Equal(t, strings.Repeat("ñ", 100), text)
}

func TestFetch_AbsentOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "empty document",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html><body><script>x()</script></body></html>"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := newTestFetcher(t, srv.URL)
			text, ok := f.Fetch(context.Background(), "99999")
			assert.False(t, ok)
			assert.Empty(t, text)
		})
	}
}

func TestFetch_TimeoutIsAbsent(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	f := newTestFetcher(t, srv.URL, func(c *Config) { c.Timeout = 50 * time.Millisecond })
	_, ok := f.Fetch(context.Background(), "1")
	assert.False(t, ok)
}

func TestFetch_CachesByRegistrationID(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("<html><body><p>Use with caution.</p></body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)

	first, ok := f.Fetch(context.Background(), "12345")
	require.True(t, ok)
	second, ok := f.Fetch(context.Background(), "12345")
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second fetch must hit the cache")
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "", truncateRunes("", 5))
}
