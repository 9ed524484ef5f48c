package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ua-hep/afw/internal/cache"
	"github.com/ua-hep/afw/internal/logging"
)

const testCookie = "# Netscape HTTP Cookie File\n" +
	"#HttpOnly_xsecdb-xsdb-official.app.cern.ch\tFALSE\t/\tTRUE\t0\tsession\tabc123\n"

func writeCookie(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cookie.txt")
	require.NoError(t, os.WriteFile(path, []byte(testCookie), 0o600))

	return path
}

// xsecServer answers every search with results and counts requests
func xsecServer(t *testing.T, status int, results []map[string]any, hits *int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		cookie, err := r.Cookie("session")
		if assert.NoError(t, err) {
			assert.Equal(t, "abc123", cookie.Value)
		}

		var body struct {
			Search map[string]string `json:"search"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "/TTZH_TuneCP5_13p6TeV_madgraph-pythia8/Run3Summer22EE", body.Search["DAS"])

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(results)
	}))
}

const ttzh = "/TTZH_TuneCP5_13p6TeV_madgraph-pythia8/Run3Summer22EENanoAODv12-130X_mcRun3_2022_realistic_postEE_v6-v2/NANOAODSIM"

func TestStripVersion(t *testing.T) {
	re := regexp.MustCompile(DefaultVersionPattern)

	tests := []struct {
		input string
		want  string
	}{
		{ttzh, "/TTZH_TuneCP5_13p6TeV_madgraph-pythia8/Run3Summer22EE"},
		{"/DY/Run3Summer23NanoAODv13-v1/NANOAODSIM", "/DY/Run3Summer23"},
		{"/Muon/Run2022C-22Sep2023-v1/NANOAOD", "/Muon/Run2022C-22Sep2023-v1/NANOAOD"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StripVersion(tt.input, re), "StripVersion(%q)", tt.input)
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name         string
		results      []XSecResult
		want         float64
		wantOK       bool
		wantLevel    string
		wantNoRecord bool
	}{
		{"single", []XSecResult{{"cross_section": "0.1"}}, 0.1, true, "", true},
		{"numeric value", []XSecResult{{"cross_section": 2.5}}, 2.5, true, "", true},
		{"none", nil, 0, false, "level=CRITICAL", false},
		{"agreeing duplicates", []XSecResult{{"cross_section": "1.0"}, {"cross_section": 1.0}}, 1.0, true, "level=WARN", false},
		{"disagreeing duplicates", []XSecResult{{"cross_section": "1.0"}, {"cross_section": "2.0"}}, 0, false, "level=CRITICAL", false},
		{"missing value", []XSecResult{{"process_name": "x"}}, 0, false, "level=CRITICAL", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			got, ok := Reconcile("X", tt.results, logging.New(&buf, false))

			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
			if tt.wantNoRecord {
				assert.Empty(t, buf.String())
			} else {
				assert.Contains(t, buf.String(), tt.wantLevel)
				assert.Contains(t, buf.String(), "dataset=X")
			}
		})
	}
}

func TestXSecResolver_Search(t *testing.T) {
	hits := 0
	server := xsecServer(t, http.StatusOK, []map[string]any{{"cross_section": "0.1534"}}, &hits)
	defer server.Close()

	reg, err := cache.NewRegistry(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	defer reg.Close()
	store, err := cache.Open[[]XSecResult](reg, XSecStore)
	require.NoError(t, err)

	resolver := NewXSecResolver(XSecConfig{URL: server.URL, CookieFile: writeCookie(t)}, store, nil)

	for i := 0; i < 2; i++ {
		factor, ok, err := resolver.ResolveFactor(context.Background(), ttzh)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.InDelta(t, 0.1534, factor, 1e-12)
	}

	assert.Equal(t, 1, hits, "second lookup should come from the cache")
}

func TestXSecResolver_NonOKIsUnresolvedAndNotCached(t *testing.T) {
	hits := 0
	server := xsecServer(t, http.StatusForbidden, []map[string]any{{"cross_section": "1"}}, &hits)
	defer server.Close()

	reg, err := cache.NewRegistry(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	defer reg.Close()
	store, err := cache.Open[[]XSecResult](reg, XSecStore)
	require.NoError(t, err)

	var buf bytes.Buffer
	resolver := NewXSecResolver(XSecConfig{URL: server.URL, CookieFile: writeCookie(t)}, store, logging.New(&buf, false))

	_, ok, err := resolver.ResolveFactor(context.Background(), ttzh)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "level=CRITICAL")
	assert.Contains(t, buf.String(), "status=403")
	assert.Equal(t, 0, store.Len())
}

func TestXSecResolver_OverrideWins(t *testing.T) {
	// No cookie and no server: an override must not touch either
	resolver := NewXSecResolver(XSecConfig{
		CookieFile: filepath.Join(t.TempDir(), "missing.txt"),
		Overrides:  map[string]float64{ttzh: 0.5},
	}, nil, nil)

	factor, ok, err := resolver.ResolveFactor(context.Background(), ttzh)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.5, factor)
}

func TestXSecResolver_MissingCookieIsFatal(t *testing.T) {
	resolver := NewXSecResolver(XSecConfig{CookieFile: filepath.Join(t.TempDir(), "missing.txt")}, nil, nil)

	_, _, err := resolver.ResolveFactor(context.Background(), ttzh)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		overrides, err := LoadOverrides(filepath.Join(dir, "none.yaml"), nil)
		require.NoError(t, err)
		assert.Empty(t, overrides)
	})

	t.Run("mapping", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yaml")
		content := "/A/B/NANOAODSIM: 1.25\n/C/D/NANOAODSIM: \"3\"\n/E/F/NANOAODSIM: unknown\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		var buf bytes.Buffer
		overrides, err := LoadOverrides(path, logging.New(&buf, false))
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"/A/B/NANOAODSIM": 1.25, "/C/D/NANOAODSIM": 3}, overrides)
		assert.Contains(t, buf.String(), "level=CRITICAL")
	})

	t.Run("not a mapping", func(t *testing.T) {
		path := filepath.Join(dir, "list.yaml")
		require.NoError(t, os.WriteFile(path, []byte("- 1\n- 2\n"), 0o644))

		var buf bytes.Buffer
		overrides, err := LoadOverrides(path, logging.New(&buf, false))
		require.NoError(t, err)
		assert.Empty(t, overrides)
		assert.Contains(t, buf.String(), "level=CRITICAL")
	})
}

func TestReadCookieFile(t *testing.T) {
	cookies, err := readCookieFile(writeCookie(t))
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.Equal(t, "abc123", cookies[0].Value)
}
