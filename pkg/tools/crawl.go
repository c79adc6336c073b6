package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/httpclient"
)

type CrawlArgs struct {
	URL      string `json:"url" jsonschema:"required,description=Absolute http(s) URL to start crawling from"`
	MaxDepth int    `json:"max_depth,omitempty" jsonschema:"description=Link depth to follow; 1 reads only the start page"`
	MaxPages int    `json:"max_pages,omitempty" jsonschema:"description=Maximum number of pages to read"`
}

// Page is the readable text of one crawled URL.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Depth int    `json:"depth"`
}

func (p Page) render() string {
	var b strings.Builder
	b.WriteString("Source: " + p.URL + "\n")
	if p.Title != "" {
		b.WriteString("Title: " + p.Title + "\n")
	}
	b.WriteString(p.Text)
	return b.String()
}

type crawler struct {
	cfg   config.CrawlConfig
	fetch *fetcher
}

// NewCrawlTool reads a site breadth-first. Pages at depth d are fetched
// while d < max_depth, so the default depth of 2 covers the start page and
// the pages it links to.
func NewCrawlTool(cfg config.CrawlConfig, client *httpclient.Client, userAgent string) Tool {
	c := &crawler{cfg: cfg, fetch: newFetcher(client, userAgent)}
	if !cfg.AllowPrivateHosts {
		c.fetch.guard = publicOnly(nil)
	}
	return NewFunc("crawl_website",
		"Read a website starting from a URL and following its links, returning the readable text of each page. Use it when the user names a specific portal or page.",
		c.crawl)
}

type crawlItem struct {
	url   string
	depth int
}

func (c *crawler) crawl(ctx context.Context, args CrawlArgs) (Output, error) {
	root, err := url.Parse(strings.TrimSpace(args.URL))
	if err != nil || (root.Scheme != "http" && root.Scheme != "https") || root.Host == "" {
		return Output{}, &kindError{kind: KindInvalidArguments, err: fmt.Errorf("url must be an absolute http(s) URL, got %q", args.URL)}
	}
	root.Fragment = ""

	maxDepth := c.cfg.MaxDepth
	if args.MaxDepth > 0 && args.MaxDepth < maxDepth {
		maxDepth = args.MaxDepth
	}
	maxPages := c.cfg.MaxPages
	if args.MaxPages > 0 && args.MaxPages < maxPages {
		maxPages = args.MaxPages
	}
	preventOutside := c.cfg.PreventOutside == nil || *c.cfg.PreventOutside

	seen := map[string]bool{root.String(): true}
	queue := []crawlItem{{url: root.String()}}
	var pages []Page

	for len(queue) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			if len(pages) == 0 {
				return Output{}, err
			}
			break
		}

		item := queue[0]
		queue = queue[1:]

		body, final, err := c.fetch.get(ctx, item.url)
		if err != nil {
			if item.depth == 0 {
				return Output{}, err
			}
			slog.Debug("Skipping page", "url", item.url, "error", err)
			continue
		}

		title, text := readableText(body, final)
		if text != "" {
			pages = append(pages, Page{URL: final.String(), Title: title, Text: text, Depth: item.depth})
		}

		if item.depth+1 >= maxDepth {
			continue
		}
		for _, link := range extractLinks(body, final) {
			if seen[link.String()] {
				continue
			}
			if preventOutside && !strings.EqualFold(link.Host, root.Host) {
				continue
			}
			seen[link.String()] = true
			queue = append(queue, crawlItem{url: link.String(), depth: item.depth + 1})
		}
	}

	if len(pages) == 0 {
		return Output{}, errEmpty("no readable content found from %s", root)
	}

	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString(p.render())
	}
	return Output{Payload: clip(b.String(), c.cfg.MaxChars), Data: pages}, nil
}

// extractLinks resolves every anchor on the page against base. Fragments
// are dropped and only http(s) links are kept.
func extractLinks(html []byte, base *url.URL) []*url.URL {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		u := base.ResolveReference(ref)
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		links = append(links, u)
	})
	return links
}
