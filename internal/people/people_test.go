package people

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

type cachedTokens struct {
	token string
	ok    bool
}

func (c cachedTokens) CachedToken() (string, bool) { return c.token, c.ok }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLookupDirectoryHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/people:searchContacts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("query"); got != "bob.jones@example.com" {
			t.Errorf("query = %q", got)
		}
		if got := q.Get("readMask"); got != "names,photos,emailAddresses" {
			t.Errorf("readMask = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"results":[{"person":{
			"names":[{"displayName":"Robert Jones"}],
			"photos":[{"url":"https://p/bob.png"}]}}]}`)
	}))
	defer srv.Close()

	c := NewWithEndpoint(srv.Client(), cachedTokens{"tok", true}, srv.URL, testLogger())
	got := c.Lookup(context.Background(), "bob.jones@example.com")
	if got.Name != "Robert Jones" || got.Picture != "https://p/bob.png" {
		t.Errorf("Lookup() = %+v, want directory profile", got)
	}
}

func TestLookupWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("directory was queried without a credential")
	}))
	defer srv.Close()

	c := NewWithEndpoint(srv.Client(), cachedTokens{}, srv.URL, testLogger())
	got := c.Lookup(context.Background(), "bob.jones97@example.com")
	if got.Name != "Bob Jones" {
		t.Errorf("Lookup() heuristic name = %q, want %q", got.Name, "Bob Jones")
	}
	if got.Picture != "" {
		t.Errorf("Lookup() picture = %q, want empty", got.Picture)
	}
}

func TestLookupServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"code":500,"message":"boom"}}`)
	}))
	defer srv.Close()

	c := NewWithEndpoint(srv.Client(), cachedTokens{"tok", true}, srv.URL, testLogger())
	got := c.Lookup(context.Background(), "jane.doe@example.com")
	if got.Name != "Jane Doe" {
		t.Errorf("Lookup() after server failure = %+v, want heuristic fallback", got)
	}
}

func TestLookupEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	c := NewWithEndpoint(srv.Client(), cachedTokens{"tok", true}, srv.URL, testLogger())
	got := c.Lookup(context.Background(), "nobody@example.com")
	if got.Name != "Nobody" || got.Picture != "" {
		t.Errorf("Lookup() = %+v, want heuristic fallback", got)
	}
}
