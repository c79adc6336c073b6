package tools

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/httpclient"
)

type NewsArgs struct {
	Query    string `json:"query,omitempty" jsonschema:"description=Search keywords"`
	Topic    string `json:"topic,omitempty" jsonschema:"description=Headline topic such as BUSINESS or NATION; overrides query"`
	Location string `json:"location,omitempty" jsonschema:"description=Place name for local headlines; used when no topic is given"`
}

// Article is one Google News entry.
type Article struct {
	Title     string `json:"title"`
	Source    string `json:"source"`
	Published string `json:"published"`
	Link      string `json:"link"`
	Summary   string `json:"summary"`
}

type news struct {
	cfg   config.NewsConfig
	fetch *fetcher
}

// NewNewsTool reads Google News RSS feeds.
func NewNewsTool(cfg config.NewsConfig, client *httpclient.Client, userAgent string) Tool {
	n := &news{cfg: cfg, fetch: newFetcher(client, userAgent)}
	return NewFunc("google_news",
		"Fetch recent news articles from Google News by keyword search, headline topic or location. Use it for announcements, budget changes and current events affecting MSMEs.",
		n.search)
}

func (n *news) search(ctx context.Context, args NewsArgs) (Output, error) {
	feedURL, err := n.feedURL(args)
	if err != nil {
		return Output{}, err
	}

	body, _, err := n.fetch.get(ctx, feedURL)
	if err != nil {
		return Output{}, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return Output{}, errMalformed(fmt.Errorf("news feed: %w", err))
	}

	articles := make([]Article, 0, min(len(feed.Items), n.cfg.MaxArticles))
	for _, item := range feed.Items {
		if len(articles) >= n.cfg.MaxArticles {
			break
		}
		title, source := splitSource(item.Title)
		articles = append(articles, Article{
			Title:     title,
			Source:    source,
			Published: item.Published,
			Link:      item.Link,
			Summary:   htmlText(item.Description),
		})
	}
	if len(articles) == 0 {
		return Output{}, errEmpty("no news articles for %q", describeNews(args))
	}

	return Output{Payload: formatArticles(articles), Data: articles}, nil
}

// feedURL picks the feed: topic headlines, then geo headlines, then search.
func (n *news) feedURL(args NewsArgs) (string, error) {
	base := strings.TrimRight(n.cfg.BaseURL, "/")
	params := url.Values{}
	params.Set("hl", n.cfg.Language)
	params.Set("gl", n.cfg.Country)
	params.Set("ceid", n.cfg.Country+":"+langPrefix(n.cfg.Language))

	switch {
	case strings.TrimSpace(args.Topic) != "":
		return fmt.Sprintf("%s/rss/headlines/section/topic/%s?%s", base, url.PathEscape(strings.ToUpper(strings.TrimSpace(args.Topic))), params.Encode()), nil
	case strings.TrimSpace(args.Location) != "":
		return fmt.Sprintf("%s/rss/headlines/section/geo/%s?%s", base, url.PathEscape(strings.TrimSpace(args.Location)), params.Encode()), nil
	case strings.TrimSpace(args.Query) != "":
		params.Set("q", strings.TrimSpace(args.Query))
		return fmt.Sprintf("%s/rss/search?%s", base, params.Encode()), nil
	default:
		return "", &kindError{kind: KindInvalidArguments, err: fmt.Errorf("one of query, topic or location is required")}
	}
}

func langPrefix(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

// splitSource separates the " - Publisher" suffix Google appends to titles.
func splitSource(title string) (string, string) {
	if i := strings.LastIndex(title, " - "); i >= 0 {
		return title[:i], title[i+3:]
	}
	return title, "Unknown"
}

// htmlText flattens an HTML fragment to its text.
func htmlText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func describeNews(args NewsArgs) string {
	for _, s := range []string{args.Topic, args.Location, args.Query} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func formatArticles(articles []Article) string {
	var b strings.Builder
	for i, a := range articles {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s (%s", i+1, a.Title, a.Source)
		if a.Published != "" {
			fmt.Fprintf(&b, ", %s", a.Published)
		}
		fmt.Fprintf(&b, ")\n   %s\n", a.Link)
		if a.Summary != "" && a.Summary != a.Title {
			fmt.Fprintf(&b, "   %s\n", a.Summary)
		}
	}
	return strings.TrimSpace(b.String())
}
