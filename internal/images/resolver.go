// Package images finds a representative image for a news item.
//
// Every lookup degrades to "" on failure; a missing image never blocks
// publication.
package images

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bwmarrin/discordgo"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
)

// DefaultFetchTimeout bounds the article page fetch.
const DefaultFetchTimeout = 8 * time.Second

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Resolver runs the image fallback chain.
type Resolver struct {
	client    *http.Client
	userAgent string
	logger    *logging.Logger
}

// NewResolver creates a resolver whose page fetches time out after timeout.
func NewResolver(timeout time.Duration, userAgent string, logger *logging.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Resolver{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// ResolveEntry returns the image of a feed entry, trying in order: structured
// media fields, enclosures typed as images, the first <img> of the entry HTML,
// and finally the og:image (or first <img>) of the page at link. Feed URLs are
// resolved against link; a candidate that is not http(s) counts as a miss.
func (r *Resolver) ResolveEntry(ctx context.Context, item *gofeed.Item, link string) string {
	var base *url.URL
	if u, err := url.Parse(link); err == nil && u.IsAbs() {
		base = u
	}

	candidates := []func() string{
		func() string { return structuredImage(item) },
		func() string { return typedEnclosure(item) },
		func() string { return firstImgInHTML(item.Description) },
		func() string { return firstImgInHTML(item.Content) },
	}
	for _, next := range candidates {
		if src := webURL(base, next()); src != "" {
			return src
		}
	}
	if base == nil {
		return ""
	}

	src, err := r.FetchPageImage(ctx, link)
	if err != nil {
		r.logger.Debug("[images] %v", err)
		return ""
	}
	return src
}

// structuredImage checks media:content, the entry image and enclosures whose
// URL ends in an image extension.
func structuredImage(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if u := strings.TrimSpace(ext.Attrs["url"]); u != "" {
					return u
				}
			}
		}
		for _, group := range media["group"] {
			for _, ext := range group.Children["content"] {
				if u := strings.TrimSpace(ext.Attrs["url"]); u != "" {
					return u
				}
			}
		}
	}

	if item.Image != nil && strings.TrimSpace(item.Image.URL) != "" {
		return strings.TrimSpace(item.Image.URL)
	}

	for _, enc := range item.Enclosures {
		if enc != nil && hasImageExtension(enc.URL) {
			return enc.URL
		}
	}
	return ""
}

func typedEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(strings.ToLower(enc.Type), "image") {
			return enc.URL
		}
	}
	return ""
}

func firstImgInHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// FetchPageImage downloads the page at link and returns its og:image, or the
// first <img> when the page declares none. Relative URLs are resolved
// against the final page URL.
func (r *Resolver) FetchPageImage(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", news.Errorf(news.KindTransient, "fetch page image", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", news.Errorf(news.KindTransient, "fetch page image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", news.Errorf(news.KindTransient, "fetch page image",
			fmt.Errorf("%s returned status %d", link, resp.StatusCode))
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", news.Errorf(news.KindTransient, "fetch page image", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", news.Errorf(news.KindTransient, "fetch page image", err)
	}

	src := ""
	doc.Find(`meta[property="og:image"], meta[name="og:image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src = strings.TrimSpace(s.AttrOr("content", ""))
		return src == ""
	})
	if src == "" {
		src = strings.TrimSpace(doc.Find("img[src]").First().AttrOr("src", ""))
	}
	return webURL(resp.Request.URL, src), nil
}

func absolute(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// webURL resolves ref against base and keeps it only if it is an http(s) URL.
func webURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(absolute(base, ref))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}

// ResolveMessage returns the image of a chat message: an attachment declared
// or named as an image, then an embed image, then an embed thumbnail.
func ResolveMessage(m *discordgo.Message) string {
	if m == nil {
		return ""
	}
	for _, att := range m.Attachments {
		if att == nil || att.URL == "" {
			continue
		}
		if strings.HasPrefix(att.ContentType, "image") || hasImageExtension(att.Filename) {
			return att.URL
		}
	}
	for _, em := range m.Embeds {
		if em == nil {
			continue
		}
		if em.Image != nil && em.Image.URL != "" {
			return em.Image.URL
		}
		if em.Thumbnail != nil && em.Thumbnail.URL != "" {
			return em.Thumbnail.URL
		}
	}
	return ""
}

func hasImageExtension(name string) bool {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
