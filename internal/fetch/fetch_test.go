package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const articlePage = `<!DOCTYPE html>
<html><head><title>Amazon S3 adds conditional writes</title></head>
<body>
<nav>Home | Blog | Contact</nav>
<article>
<h1>Amazon S3 adds conditional writes</h1>
<p>Amazon S3 now supports conditional writes that check for the existence of an object before creating it.
This makes it simpler for distributed applications with multiple clients to prevent overwriting data.</p>
<p>Conditional writes are available in all AWS Regions at no additional charge, and work through the API,
SDKs and the command line interface. Teams building data lakes can drop custom locking layers.</p>
</article>
</body></html>`

func TestFetchExtractsArticleText(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	f := NewContentFetcher(5*time.Second, "test-agent")
	text, err := f.Fetch(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "conditional writes") {
		t.Errorf("expected article text, got %q", text)
	}
	if gotUA != "test-agent" {
		t.Errorf("expected user agent to be sent, got %q", gotUA)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewContentFetcher(0, "").Fetch(context.Background(), srv.URL)
	var he *httpError
	if !errors.As(err, &he) || he.code != http.StatusGone {
		t.Errorf("expected HTTP 410 error, got %v", err)
	}
}

func TestFetchShortPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>Tiny.</p></body></html>"))
	}))
	defer srv.Close()

	_, err := NewContentFetcher(0, "").Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Error("expected an error for a page without article text")
	}
}
