package tools

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/httpclient"
)

type SiteArgs struct {
	Query string `json:"query,omitempty" jsonschema:"description=Optional keywords to narrow the returned content"`
}

// Block is a paragraph or a table scraped from a page.
type Block struct {
	Type    string              `json:"type"`
	Text    string              `json:"text,omitempty"`
	Headers []string            `json:"headers,omitempty"`
	Rows    []map[string]string `json:"rows,omitempty"`
}

const (
	BlockParagraph = "paragraph"
	BlockTable     = "table"
)

// NewGSTRatesTool scrapes paragraphs and rate tables from the configured GST
// rates page.
func NewGSTRatesTool(site config.SiteConfig, maxChars int, client *httpclient.Client, userAgent string) Tool {
	f := newFetcher(client, userAgent)
	return NewFunc(config.SiteGSTRates, siteDescription(site, "Look up current GST rates by goods or services category from the official rate tables."),
		func(ctx context.Context, args SiteArgs) (Output, error) {
			body, _, err := f.get(ctx, site.URL)
			if err != nil {
				return Output{}, err
			}

			blocks, err := ScrapeBlocks(body)
			if err != nil {
				return Output{}, errMalformed(err)
			}
			if len(blocks) == 0 {
				return Output{}, errEmpty("no paragraphs or tables found at %s", site.URL)
			}

			blocks = filterBlocks(blocks, args.Query)
			return Output{Payload: clip(renderBlocks(blocks), maxChars), Data: blocks}, nil
		})
}

// ScrapeBlocks walks the <p> and <table> elements of the body in document
// order. Tables take headers from <th> cells or, when there are none, from
// the first row. Rows whose cell count differs from the header count are
// skipped, as are empty paragraphs and tables.
func ScrapeBlocks(html []byte) ([]Block, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var blocks []Block
	doc.Find("body").Find("p, table").Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "p" {
			if text := cellText(sel); text != "" {
				blocks = append(blocks, Block{Type: BlockParagraph, Text: text})
			}
			return
		}
		if tb, ok := scrapeTable(sel); ok {
			blocks = append(blocks, tb)
		}
	})
	return blocks, nil
}

func scrapeTable(table *goquery.Selection) (Block, bool) {
	var headers []string
	rows := table.Find("tr")

	if th := table.Find("th"); th.Length() > 0 {
		th.Each(func(_ int, s *goquery.Selection) {
			headers = append(headers, cellText(s))
		})
	} else if rows.Length() > 0 {
		rows.First().Find("td").Each(func(_ int, s *goquery.Selection) {
			headers = append(headers, cellText(s))
		})
		rows = rows.Slice(1, rows.Length())
	}
	if len(headers) == 0 {
		return Block{}, false
	}

	out := Block{Type: BlockTable, Headers: headers}
	rows.Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() != len(headers) {
			return
		}
		record := make(map[string]string, len(headers))
		cells.Each(func(i int, td *goquery.Selection) {
			record[headers[i]] = cellText(td)
		})
		out.Rows = append(out.Rows, record)
	})
	return out, len(out.Rows) > 0
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// filterBlocks keeps paragraphs and table rows mentioning any query term.
// When nothing matches the input is returned unchanged.
func filterBlocks(blocks []Block, query string) []Block {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return blocks
	}

	var out []Block
	for _, b := range blocks {
		switch b.Type {
		case BlockParagraph:
			if matchesAny(b.Text, terms) {
				out = append(out, b)
			}
		case BlockTable:
			kept := Block{Type: BlockTable, Headers: b.Headers}
			for _, row := range b.Rows {
				var sb strings.Builder
				for _, v := range row {
					sb.WriteString(v)
					sb.WriteByte(' ')
				}
				if matchesAny(sb.String(), terms) {
					kept.Rows = append(kept.Rows, row)
				}
			}
			if len(kept.Rows) > 0 {
				out = append(out, kept)
			}
		}
	}
	if len(out) == 0 {
		return blocks
	}
	return out
}

func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) >= 3 && !stopWords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "rate": true,
	"rates": true, "gst": true, "how": true, "much": true, "with": true,
}

func matchesAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func renderBlocks(blocks []Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch blk.Type {
		case BlockParagraph:
			b.WriteString(blk.Text)
		case BlockTable:
			b.WriteString("| " + strings.Join(blk.Headers, " | ") + " |\n")
			b.WriteString("|" + strings.Repeat(" --- |", len(blk.Headers)))
			for _, row := range blk.Rows {
				b.WriteString("\n|")
				for _, h := range blk.Headers {
					b.WriteString(" " + row[h] + " |")
				}
			}
		}
	}
	return b.String()
}

// NewReadableSiteTool returns the readable text of a configured page, such
// as the loan scheme overview.
func NewReadableSiteTool(name string, site config.SiteConfig, maxChars int, client *httpclient.Client, userAgent string) Tool {
	f := newFetcher(client, userAgent)
	return NewFunc(name, siteDescription(site, "Read the content of "+site.URL+"."),
		func(ctx context.Context, args SiteArgs) (Output, error) {
			body, final, err := f.get(ctx, site.URL)
			if err != nil {
				return Output{}, err
			}

			title, text := readableText(body, final)
			if text == "" {
				return Output{}, errEmpty("no readable content at %s", site.URL)
			}

			page := Page{URL: final.String(), Title: title, Text: text}
			if paras := filterParagraphs(text, args.Query); paras != "" {
				page.Text = paras
			}
			return Output{Payload: clip(page.render(), maxChars), Data: page}, nil
		})
}

// readableText extracts the main article text, falling back to the whole
// body text when readability finds nothing.
func readableText(html []byte, pageURL *url.URL) (string, string) {
	article, err := readability.FromReader(bytes.NewReader(html), pageURL)
	if err == nil {
		if text := normalizeLines(article.TextContent); text != "" {
			return strings.TrimSpace(article.Title), text
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Find("title").First().Text()), normalizeLines(doc.Find("body").Text())
}

func normalizeLines(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.Join(strings.Fields(line), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// filterParagraphs returns the lines of text that mention a query term, or
// "" when there is no query or nothing matches.
func filterParagraphs(text, query string) string {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if matchesAny(line, terms) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func siteDescription(site config.SiteConfig, fallback string) string {
	if strings.TrimSpace(site.Description) != "" {
		return site.Description
	}
	return fallback
}

// clip cuts s to at most n bytes on a line or rune boundary.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, '\n'); i > n/2 {
		cut = cut[:i]
	} else {
		for len(cut) > 0 && !utf8.RuneStart(s[len(cut)]) {
			cut = cut[:len(cut)-1]
		}
	}
	return cut + "\n[truncated]"
}
