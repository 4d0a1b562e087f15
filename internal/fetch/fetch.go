package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// minTextLength is the shortest extraction accepted as real article text.
const minTextLength = 100

// ErrNoContent is returned when a page has no extractable article text.
var ErrNoContent = errors.New("no extractable content")

// ContentFetcher fetches full article text via HTTP + readability extraction.
type ContentFetcher struct {
	client    *http.Client
	userAgent string
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(timeout time.Duration, userAgent string) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if userAgent == "" {
		userAgent = "CloudWatcher/1.0 (news aggregator)"
	}
	return &ContentFetcher{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Fetch downloads articleURL and returns its readable text.
func (f *ContentFetcher) Fetch(ctx context.Context, articleURL string) (string, error) {
	parsedURL, err := url.Parse(articleURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) <= minTextLength {
		return "", ErrNoContent
	}
	return text, nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, http.StatusText(e.code))
}
