package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/politecrawl/internal/model"
)

// unsafeElements are removed with their content.
const unsafeElements = "script, style, iframe, object, embed"

// urlAttributes are attributes whose javascript: values are dropped.
var urlAttributes = map[string]struct{}{
	"href":       {},
	"src":        {},
	"action":     {},
	"formaction": {},
	"xlink:href": {},
}

// Sanitize strips scripts, embedded objects, event handler attributes and
// javascript: URLs from an HTML document and returns the re-serialized HTML.
func Sanitize(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find(unsafeElements).Remove()

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, node := range s.Nodes {
			kept := node.Attr[:0]
			for _, attr := range node.Attr {
				key := strings.ToLower(attr.Key)
				if strings.HasPrefix(key, "on") {
					continue
				}
				if _, ok := urlAttributes[key]; ok {
					val := strings.ToLower(strings.TrimSpace(attr.Val))
					if strings.HasPrefix(val, "javascript:") {
						continue
					}
				}
				kept = append(kept, attr)
			}
			node.Attr = kept
		}
	})

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return out, nil
}

// ExtractMeta returns the title and description of an HTML document.
// OpenGraph values are used when the standard elements are missing.
func ExtractMeta(content string) (title, description string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", ""
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	var ogTitle, ogDescription string
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		name := strings.ToLower(s.AttrOr("name", s.AttrOr("property", "")))
		switch name {
		case "description":
			if description == "" {
				description = content
			}
		case "og:description":
			ogDescription = content
		case "og:title":
			ogTitle = content
		}
	})

	if title == "" {
		title = ogTitle
	}
	if description == "" {
		description = ogDescription
	}
	return title, description
}

// BackfillMeta fills an empty title or description of res from its content.
func BackfillMeta(res *model.FetchResult) {
	if res == nil || (res.Title != "" && res.Description != "") {
		return
	}
	title, description := ExtractMeta(res.Content)
	if res.Title == "" {
		res.Title = title
	}
	if res.Description == "" {
		res.Description = description
	}
}
