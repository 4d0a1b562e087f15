package collect

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ContentUnavailable is the body used when a feed entry carries no text.
const ContentUnavailable = "Content not available"

const (
	defaultMaxPerFeed      = 3
	defaultMaxContentChars = 5000
	defaultTimeout         = 30 * time.Second
	defaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL      string
	Provider string
}

// ContentFetcher retrieves the readable text of an article page.
type ContentFetcher interface {
	Fetch(ctx context.Context, articleURL string) (string, error)
}

// Options tunes the collector. Zero values fall back to the defaults.
type Options struct {
	MaxPerFeed      int
	MaxContentChars int
	Timeout         time.Duration
	UserAgent       string
	// Fetcher, when set, fills entries that have no body in the feed.
	Fetcher ContentFetcher
	Client  *http.Client
}

// Collector fetches the configured feeds and normalizes their entries.
type Collector struct {
	feeds  []FeedConfig
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// NewCollector creates a new feed collector.
func NewCollector(feeds []FeedConfig, opts Options, logger *zap.Logger) *Collector {
	if opts.MaxPerFeed <= 0 {
		opts.MaxPerFeed = defaultMaxPerFeed
	}
	if opts.MaxContentChars <= 0 {
		opts.MaxContentChars = defaultMaxContentChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{feeds: feeds, opts: opts, client: client, logger: logger}
}

// Fetch polls every feed once, in configuration order. A failing feed is
// logged and skipped; only cancellation of ctx aborts the whole fetch.
func (c *Collector) Fetch(ctx context.Context) ([]Article, error) {
	c.logger.Info("Collecting from RSS feeds", zap.Int("feeds", len(c.feeds)))

	var all []Article
	for _, fc := range c.feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		articles, err := c.fetchFeed(ctx, fc)
		if err != nil {
			c.logger.Warn("Failed to fetch feed", zap.String("feed", fc.URL), zap.String("provider", fc.Provider), zap.Error(err))
			continue
		}

		c.logger.Info("Parsed feed", zap.String("provider", fc.Provider), zap.Int("articles", len(articles)))
		all = append(all, articles...)
	}

	return all, nil
}

func (c *Collector) fetchFeed(ctx context.Context, fc FeedConfig) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fc.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	articles, err := ParseFeed(resp.Body, fc.Provider, c.opts.MaxPerFeed)
	if err != nil {
		return nil, err
	}

	for i := range articles {
		a := &articles[i]
		if a.Content == "" && c.opts.Fetcher != nil {
			text, err := c.opts.Fetcher.Fetch(ctx, a.Link)
			if err != nil {
				c.logger.Debug("No readable content", zap.String("link", a.Link), zap.Error(err))
			}
			a.Content = text
		}
		if a.Content == "" {
			a.Content = ContentUnavailable
		}
		a.Content = Truncate(a.Content, c.opts.MaxContentChars)
	}

	return articles, nil
}
