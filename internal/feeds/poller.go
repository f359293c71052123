// Package feeds polls RSS/Atom sources and publishes new entries.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
)

// Source is one configured feed.
type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DefaultSources are polled when no feed file is configured.
var DefaultSources = []Source{
	{Name: "РИА Новости", URL: "https://ria.ru/export/rss2/index.xml"},
	{Name: "ТАСС", URL: "https://tass.ru/rss/v2.xml"},
	{Name: "Интерфакс", URL: "https://www.interfax.ru/rss.asp"},
	{Name: "Lenta.ru", URL: "https://lenta.ru/rss"},
}

// Publisher is what the poller needs from the publishing side.
type Publisher interface {
	Seen(key string) bool
	Publish(ctx context.Context, channelID string, item *news.Item, key string) error
}

// ImageResolver finds the image of a feed entry.
type ImageResolver interface {
	ResolveEntry(ctx context.Context, item *gofeed.Item, link string) string
}

// Config configures a Poller.
type Config struct {
	Sources      []Source
	ChannelID    string
	MaxEntries   int
	PublishDelay time.Duration
	FeedTimeout  time.Duration
	UserAgent    string
}

// Result summarizes one poll cycle.
type Result struct {
	Feeds      int
	FeedErrors int
	Published  int
	Duplicates int
	Malformed  int
	Failed     int
}

// Poller runs the feed polling cycle.
type Poller struct {
	cfg     Config
	client  *http.Client
	pub     Publisher
	images  ImageResolver
	clock   *news.Clock
	limiter *rate.Limiter
	logger  *logging.Logger
	ready   func() bool

	running  sync.Mutex
	mu       sync.RWMutex
	lastPoll time.Time
	last     Result
}

// NewPoller creates a poller. Publishes within a cycle are spaced by
// cfg.PublishDelay.
func NewPoller(cfg Config, pub Publisher, images ImageResolver, clock *news.Clock, logger *logging.Logger) *Poller {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 6
	}
	if cfg.FeedTimeout <= 0 {
		cfg.FeedTimeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.PublishDelay > 0 {
		limit = rate.Every(cfg.PublishDelay)
	}

	return &Poller{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.FeedTimeout},
		pub:     pub,
		images:  images,
		clock:   clock,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// SetReadyCheck gates every cycle on check. Cycles started before the
// transport is ready are skipped.
func (p *Poller) SetReadyCheck(check func() bool) {
	p.ready = check
}

// Schedule registers the poll cycle on c every interval. Cycles run under
// ctx, so cancelling it stops a cycle in flight.
func (p *Poller) Schedule(ctx context.Context, c *cron.Cron, interval time.Duration) (cron.EntryID, error) {
	return c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if ctx.Err() != nil {
			return
		}
		p.Run(ctx)
	})
}

// Run executes one cycle unless the transport is not ready or another cycle
// is still in progress.
func (p *Poller) Run(ctx context.Context) {
	if p.ready != nil && !p.ready() {
		p.logger.Debug("[rss] transport not ready, skipping cycle")
		return
	}
	if !p.running.TryLock() {
		p.logger.Info("[rss] previous cycle still running, skipping")
		return
	}
	defer p.running.Unlock()

	res := p.Poll(ctx)
	p.logger.Info("[rss] cycle done: %d feeds (%d failed), %d published, %d duplicates, %d malformed, %d failed deliveries",
		res.Feeds, res.FeedErrors, res.Published, res.Duplicates, res.Malformed, res.Failed)
}

// Poll fetches every source once and publishes entries not seen before.
// A failing feed never stops the remaining ones.
func (p *Poller) Poll(ctx context.Context) Result {
	var res Result
	for _, src := range p.cfg.Sources {
		if ctx.Err() != nil {
			break
		}
		res.Feeds++

		feed, err := p.Fetch(ctx, src.URL)
		if err != nil {
			res.FeedErrors++
			p.logger.Warning("[rss] %s: %v", src.Name, err)
			continue
		}

		label := strings.TrimSpace(feed.Title)
		if label == "" {
			label = src.Name
		}
		for _, item := range Latest(feed.Items, p.cfg.MaxEntries) {
			p.processEntry(ctx, label, item, &res)
		}
	}

	p.mu.Lock()
	p.lastPoll = time.Now()
	p.last = res
	p.mu.Unlock()
	return res
}

func (p *Poller) processEntry(ctx context.Context, label string, entry *gofeed.Item, res *Result) {
	title := strings.TrimSpace(entry.Title)
	link := EntryLink(entry)
	if title == "" || link == "" {
		res.Malformed++
		p.logger.Debug("[rss] %v", news.Errorf(news.KindMalformed, "extract entry",
			fmt.Errorf("%s: entry without title or link", label)))
		return
	}

	key := news.RSSKey(title, link)
	if p.pub.Seen(key) {
		res.Duplicates++
		return
	}

	item := p.clock.NewItem(news.OriginRSS, title, EntryText(entry), label)
	// A non-URL GUID still keys the entry but cannot be a card link.
	if isWebURL(link) {
		item.Link = link
	}
	item.ImageURL = p.images.ResolveEntry(ctx, entry, item.Link)

	if err := p.limiter.Wait(ctx); err != nil {
		res.Failed++
		return
	}
	if err := p.pub.Publish(ctx, p.cfg.ChannelID, item, key); err != nil {
		res.Failed++
		p.logger.Error("[rss] %s: %q: %v", label, title, err)
		return
	}
	res.Published++
	p.logger.Info("[rss] sent: %s (%s)", title, label)
}

// Fetch downloads and parses the feed at url.
func (p *Poller) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	return FetchFeed(ctx, p.client, p.cfg.UserAgent, url)
}

// FetchFeed downloads and parses the feed at url with client.
func FetchFeed(ctx context.Context, client *http.Client, userAgent, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, news.Errorf(news.KindTransient, "fetch feed", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, news.Errorf(news.KindTransient, "fetch feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, news.Errorf(news.KindTransient, "fetch feed",
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, news.Errorf(news.KindTransient, "parse feed", err)
	}
	return feed, nil
}

// LastPoll returns the end time and summary of the latest cycle.
func (p *Poller) LastPoll() (time.Time, Result) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPoll, p.last
}

// Latest returns at most n entries, newest first. Feed order is kept when
// any entry lacks a publication date.
func Latest(items []*gofeed.Item, n int) []*gofeed.Item {
	sorted := make([]*gofeed.Item, 0, len(items))
	dated := true
	for _, it := range items {
		if it == nil {
			continue
		}
		if entryTime(it) == nil {
			dated = false
		}
		sorted = append(sorted, it)
	}

	if dated {
		sort.SliceStable(sorted, func(i, j int) bool {
			return entryTime(sorted[i]).After(*entryTime(sorted[j]))
		})
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func entryTime(it *gofeed.Item) *time.Time {
	if it.PublishedParsed != nil {
		return it.PublishedParsed
	}
	return it.UpdatedParsed
}

// EntryLink returns the entry link, falling back to its GUID.
func EntryLink(it *gofeed.Item) string {
	if link := strings.TrimSpace(it.Link); link != "" {
		return link
	}
	return strings.TrimSpace(it.GUID)
}

func isWebURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// EntryText returns the plain text of the entry summary, or of its content
// when the summary is empty.
func EntryText(it *gofeed.Item) string {
	for _, fragment := range []string{it.Description, it.Content} {
		if text := htmlText(fragment); text != "" {
			return text
		}
	}
	return ""
}

func htmlText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}
