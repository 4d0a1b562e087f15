package collect

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/text/encoding/htmlindex"
)

// Article is a normalized feed entry before AI processing.
type Article struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	Content    string `json:"content"`
	SourceHint string `json:"source_hint"`
}

// ParseFeed parses an RSS or Atom document (namespaced or not) and returns at
// most maxItems articles in document order. Entries without a title or a link
// are dropped before the cap is applied. Content is left empty when the entry
// has no body; truncation is the caller's job.
func ParseFeed(r io.Reader, provider string, maxItems int) ([]Article, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	raw, rawErr := scanEntries(data)
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		// Documents with an unknown root still count when they hold entries.
		if rawErr != nil || len(raw) == 0 {
			return nil, fmt.Errorf("parsing feed: %w", err)
		}
		entries := make([]entry, len(raw))
		for i, e := range raw {
			entries[i] = entry{title: e.Title, link: e.link(), body: e.body()}
		}
		return collectEntries(entries, provider, maxItems), nil
	}

	// gofeed drops the text of an Atom <link>; the raw entries fill in
	// missing links when both views line up.
	if len(raw) != len(feed.Items) {
		raw = nil
	}
	entries := make([]entry, len(feed.Items))
	for i, item := range feed.Items {
		link := itemLink(item)
		if link == "" && raw != nil {
			link = raw[i].link()
		}
		entries[i] = entry{title: item.Title, link: link, body: itemBody(feed.FeedType, item)}
	}
	return collectEntries(entries, provider, maxItems), nil
}

type entry struct {
	title, link, body string
}

func collectEntries(entries []entry, provider string, maxItems int) []Article {
	var articles []Article
	for _, e := range entries {
		if maxItems > 0 && len(articles) >= maxItems {
			break
		}

		title := strings.TrimSpace(e.title)
		link := strings.TrimSpace(e.link)
		if title == "" || link == "" {
			continue
		}

		articles = append(articles, Article{
			Title:      title,
			Link:       link,
			Content:    plainText(e.body),
			SourceHint: provider,
		})
	}
	return articles
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	for _, ext := range item.Extensions["atom"]["link"] {
		if href := strings.TrimSpace(ext.Attrs["href"]); href != "" {
			return href
		}
	}
	return ""
}

// itemBody picks description, then content, then summary. gofeed maps an RSS
// description and an Atom summary both to Description, so the order depends
// on the feed type.
func itemBody(feedType string, item *gofeed.Item) string {
	candidates := []string{item.Description, item.Content}
	if feedType == "atom" {
		candidates = []string{item.Content, item.Description}
	}
	for _, c := range candidates {
		if text := plainText(c); text != "" {
			return text
		}
	}
	return ""
}

// rawEntry is an <item> or <entry> element read without regard to namespace.
type rawEntry struct {
	Title       string    `xml:"title"`
	Links       []rawLink `xml:"link"`
	Description string    `xml:"description"`
	Content     string    `xml:"content"`
	Summary     string    `xml:"summary"`
}

type rawLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Text string `xml:",chardata"`
}

// link prefers element text, then an alternate href, then any href.
func (e rawEntry) link() string {
	for _, l := range e.Links {
		if t := strings.TrimSpace(l.Text); t != "" {
			return t
		}
	}
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			if h := strings.TrimSpace(l.Href); h != "" {
				return h
			}
		}
	}
	for _, l := range e.Links {
		if h := strings.TrimSpace(l.Href); h != "" {
			return h
		}
	}
	return ""
}

func (e rawEntry) body() string {
	for _, c := range []string{e.Description, e.Content, e.Summary} {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

// scanEntries walks the document and decodes every item or entry element in
// document order.
func scanEntries(data []byte) ([]rawEntry, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = func(label string, in io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return in, nil
		}
		return enc.NewDecoder().Reader(in), nil
	}

	var entries []rawEntry
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || (start.Name.Local != "item" && start.Name.Local != "entry") {
			continue
		}
		var e rawEntry
		if err := dec.DecodeElement(&e, &start); err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}

// plainText strips markup from a feed body and normalizes whitespace.
func plainText(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	if !strings.Contains(html, "<") {
		return strings.Join(strings.Fields(html), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Truncate cuts s to at most limit characters (runes).
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
