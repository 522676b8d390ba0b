package targets

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/samvad-hq/fetchstate/pkg/fetchstate"
)

// PageMeta is the summary extracted from an HTML payload (OG tags first, then fallbacks).
type PageMeta struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// PageMetaDecoder parses HTML bodies into PageMeta.
func PageMetaDecoder() fetchstate.Decoder[PageMeta] {
	parse := fetchstate.HTML()
	return func(body []byte) (PageMeta, error) {
		doc, err := parse(body)
		if err != nil {
			return PageMeta{}, err
		}
		return extractMeta(doc), nil
	}
}

func extractMeta(doc *goquery.Document) PageMeta {
	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	return PageMeta{
		Title: firstNonEmpty(
			extract(`meta[property="og:title"]`),
			strings.TrimSpace(doc.Find("title").First().Text()),
		),
		Description: firstNonEmpty(
			extract(`meta[property="og:description"]`),
			extract(`meta[name="description"]`),
		),
		ImageURL: extract(`meta[property="og:image"]`),
	}
}

// ResolveImage resolves a relative og:image against the page URL.
func (m PageMeta) ResolveImage(pageURL string) PageMeta {
	m.ImageURL = resolveURL(m.ImageURL, pageURL)
	return m
}

func resolveURL(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
