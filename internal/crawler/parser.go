package crawler

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/politecrawl/internal/model"
)

// Parser extracts links, media and metadata from HTML content.
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains all information extracted from an HTML page.
type ParseResult struct {
	// Title is the page title from the <title> tag.
	Title string

	// Description is the meta description, or the OpenGraph one.
	Description string

	// Canonical is the canonical URL declared by the page.
	Canonical string

	// Language is the lang attribute of the <html> element.
	Language string

	// Links contains every distinct outbound link in document order.
	Links []model.Link

	// Media contains every distinct image, video and audio reference.
	Media []model.Media

	// MetaTags contains meta tag name (or property) to content.
	MetaTags map[string]string
}

// InternalLinks returns the URLs of links on the same host as the page.
func (r *ParseResult) InternalLinks() []string {
	out := make([]string, 0, len(r.Links))
	for _, l := range r.Links {
		if l.Internal {
			out = append(out, l.URL)
		}
	}
	return out
}

// NewParser creates a new HTML parser with the given base URL.
// The base URL is used to resolve relative links.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses HTML content and extracts links, media and metadata.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Links:    make([]model.Link, 0),
		Media:    make([]model.Media, 0),
		MetaTags: make(map[string]string),
	}
	seenLinks := make(map[string]struct{})
	seenMedia := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			p.processElement(n, result, seenLinks, seenMedia)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if result.Description == "" {
		result.Description = result.MetaTags["og:description"]
	}
	if result.Title == "" {
		result.Title = result.MetaTags["og:title"]
	}

	return result, nil
}

// processElement handles HTML element nodes.
func (p *Parser) processElement(n *html.Node, result *ParseResult, seenLinks, seenMedia map[string]struct{}) {
	switch n.Data {
	case "html":
		if lang := getAttr(n, "lang"); lang != "" {
			result.Language = strings.TrimSpace(lang)
		}

	case "title":
		if result.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.TrimSpace(n.FirstChild.Data)
		}

	case "a":
		href := getAttr(n, "href")
		resolved := p.resolveURL(href)
		if resolved == "" {
			return
		}
		if _, ok := seenLinks[resolved]; ok {
			return
		}
		seenLinks[resolved] = struct{}{}
		result.Links = append(result.Links, model.Link{
			URL:      resolved,
			Text:     strings.Join(strings.Fields(textOf(n)), " "),
			Rel:      getAttr(n, "rel"),
			Internal: p.isInternal(resolved),
		})

	case "img":
		src := getAttr(n, "src")
		if src == "" {
			src = getAttr(n, "data-src")
		}
		p.addMedia(result, seenMedia, src, model.MediaImage, getAttr(n, "alt"))

	case "video":
		p.addMedia(result, seenMedia, getAttr(n, "src"), model.MediaVideo, getAttr(n, "title"))

	case "audio":
		p.addMedia(result, seenMedia, getAttr(n, "src"), model.MediaAudio, getAttr(n, "title"))

	case "source":
		if n.Parent == nil {
			return
		}
		switch n.Parent.Data {
		case "video":
			p.addMedia(result, seenMedia, getAttr(n, "src"), model.MediaVideo, "")
		case "audio":
			p.addMedia(result, seenMedia, getAttr(n, "src"), model.MediaAudio, "")
		}

	case "meta":
		name := getAttr(n, "name")
		if name == "" {
			name = getAttr(n, "property") // OpenGraph uses property
		}
		content := getAttr(n, "content")
		if name == "" || content == "" {
			return
		}
		name = strings.ToLower(name)
		result.MetaTags[name] = content
		if name == "description" {
			result.Description = strings.TrimSpace(content)
		}

	case "link":
		if strings.EqualFold(getAttr(n, "rel"), "canonical") {
			result.Canonical = p.resolveURL(getAttr(n, "href"))
		}
	}
}

func (p *Parser) addMedia(result *ParseResult, seen map[string]struct{}, src string, typ model.MediaType, alt string) {
	resolved := p.resolveURL(src)
	if resolved == "" {
		return
	}
	if _, ok := seen[resolved]; ok {
		return
	}
	seen[resolved] = struct{}{}
	result.Media = append(result.Media, model.Media{URL: resolved, Type: typ, Alt: strings.TrimSpace(alt)})
}

// resolveURL resolves a relative URL against the base URL.
// Non-navigable references (javascript:, mailto:, bare fragments) resolve
// to the empty string. The fragment of the result is dropped.
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := p.baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// isInternal reports whether link is on the same host as the page.
func (p *Parser) isInternal(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), p.baseURL.Hostname())
}

// textOf returns the concatenated text content of n.
func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
