package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxPageBytes = 10 * 1024 * 1024

// WebExtractor downloads http(s) pages and reduces HTML to readable text
type WebExtractor struct {
	client *http.Client
}

func NewWebExtractor(client *http.Client) *WebExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebExtractor{client: client}
}

func (we *WebExtractor) Extract(ctx context.Context, location string) (*Content, error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrUnsupported
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := we.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", location, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || mediaType == "":
		title, text, err := HTMLToText(strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", location, err)
		}
		if title == "" {
			title = u.Host + u.Path
		}
		return &Content{Title: title, Content: text, SourceType: "web", URL: location}, nil
	case strings.HasPrefix(mediaType, "text/"):
		return &Content{Title: u.Host + u.Path, Content: string(body), SourceType: "web", URL: location}, nil
	default:
		return nil, fmt.Errorf("cannot extract text from %s content at %s", mediaType, location)
	}
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Template: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Pre: true, atom.Blockquote: true, atom.Tr: true, atom.Br: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Header: true,
}

// HTMLToText returns the document title and its visible text, one paragraph per block element
func HTMLToText(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var title string
	var paragraphs []string
	var current strings.Builder

	flush := func() {
		text := strings.Join(strings.Fields(current.String()), " ")
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.DataAtom] || n.DataAtom == atom.Head {
				return
			}
		}
		if n.Type == html.TextNode {
			current.WriteString(n.Data)
			current.WriteString(" ")
		}

		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}

	// The title lives in <head>, which the walk skips, so look for it first
	var findTitle func(n *html.Node)
	findTitle = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findTitle(c)
		}
	}
	findTitle(doc)

	walk(doc)
	flush()

	return title, strings.Join(paragraphs, "\n\n"), nil
}
