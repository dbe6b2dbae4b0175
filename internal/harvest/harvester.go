// Package harvest discovers new wallpapers on the catalog site and appends
// them to the store as pending items.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/catalog"
	"github.com/walldrop/walldrop/internal/metrics"
)

// Config controls Harvester behavior.
type Config struct {
	// BaseURL is the catalog site root.
	BaseURL string
	// UserAgent identifies the harvester to the site.
	UserAgent string
	// Delay separates requests to the site.
	Delay time.Duration
	// MaxPages bounds the listing walk. 0 walks until an empty page.
	MaxPages int
	// StopAfterKnown ends a run after this many consecutive already-known
	// wallpapers: past that point the walk is into pages harvested before.
	StopAfterKnown int
	// Timeout bounds a single detail-page fetch.
	Timeout time.Duration
}

const (
	defaultBaseURL        = "https://4kwallpapers.com"
	defaultStopAfterKnown = 50
	defaultUserAgent      = "walldrop/1.0"
)

var (
	// imagePattern finds wallpaper file paths in a detail page.
	imagePattern = regexp.MustCompile(`(?i)/images/wallpapers/[^"]+\.(?:jpe?g|png)`)
	// dimsPattern extracts the WxH rendition suffix from an image path.
	dimsPattern = regexp.MustCompile(`-(\d+)x(\d+)-\d+\.`)

	spacePattern    = regexp.MustCompile(`\s+`)
	nonWordPattern  = regexp.MustCompile(`[^A-Za-z0-9_]`)
	errNoImage      = errors.New("no downloadable image on page")
	errEmptyListing = errors.New("listing page had no wallpapers")
)

// Harvester crawls listing pages and appends discovered items.
type Harvester struct {
	store  catalog.Store
	cfg    Config
	logger *zap.Logger
	client *http.Client
}

// New constructs a Harvester.
func New(store catalog.Store, cfg Config, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.StopAfterKnown <= 0 {
		cfg.StopAfterKnown = defaultStopAfterKnown
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Harvester{
		store:  store,
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Run walks listing pages from page one until the site runs out, the page
// bound is hit, or enough consecutive known wallpapers show the walk has
// caught up with a previous run.
func (h *Harvester) Run(ctx context.Context) error {
	known := 0
	for page := 1; h.cfg.MaxPages <= 0 || page <= h.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		links, err := h.listPage(page)
		if err != nil {
			if errors.Is(err, errEmptyListing) {
				h.logger.Info("listing exhausted", zap.Int("page", page))
				return nil
			}
			return fmt.Errorf("list page %d: %w", page, err)
		}
		h.logger.Info("listing page scanned",
			zap.Int("page", page), zap.Int("wallpapers", len(links)))

		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := h.itemFromPage(ctx, link)
			if err != nil {
				h.logger.Warn("wallpaper page unusable",
					zap.String("url", link), zap.Error(err))
				metrics.ObserveHarvest("unusable")
				continue
			}

			switch err := h.store.Append(ctx, item); {
			case errors.Is(err, catalog.ErrDuplicateItem):
				known++
				metrics.ObserveHarvest("known")
				if known >= h.cfg.StopAfterKnown {
					h.logger.Info("caught up with previous harvest",
						zap.Int("consecutive_known", known))
					return nil
				}
			case err != nil:
				return fmt.Errorf("append %s: %w", item.SourceURL, err)
			default:
				known = 0
				metrics.ObserveHarvest("added")
				h.logger.Info("wallpaper discovered",
					zap.String("url", item.SourceURL),
					zap.String("category", item.Category),
					zap.Strings("tags", item.Tags))
			}
		}
	}
	return nil
}

// listPage collects wallpaper page links from one listing page.
func (h *Harvester) listPage(page int) ([]string, error) {
	target := h.cfg.BaseURL
	if page > 1 {
		target = fmt.Sprintf("%s/?page=%d", h.cfg.BaseURL, page)
	}

	base, err := url.Parse(h.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(base.Hostname()),
		colly.UserAgent(h.cfg.UserAgent),
	)
	if h.cfg.Delay > 0 {
		if err := collector.Limit(&colly.LimitRule{
			DomainGlob: "*",
			Delay:      h.cfg.Delay,
		}); err != nil {
			return nil, fmt.Errorf("set crawl limits: %w", err)
		}
	}

	var links []string
	collector.OnHTML("a.wallpapers__canvas_image", func(e *colly.HTMLElement) {
		if href := e.Request.AbsoluteURL(e.Attr("href")); href != "" {
			links = append(links, href)
		}
	})
	var visitErr error
	collector.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	if err := collector.Visit(target); err != nil {
		return nil, err
	}
	collector.Wait()
	if visitErr != nil {
		return nil, visitErr
	}
	if len(links) == 0 {
		return nil, errEmptyListing
	}
	return links, nil
}

// itemFromPage fetches one wallpaper page and extracts its metadata and the
// highest-resolution downloadable rendition.
func (h *Harvester) itemFromPage(ctx context.Context, pageURL string) (catalog.Item, error) {
	html, err := h.fetchHTML(ctx, pageURL)
	if err != nil {
		return catalog.Item{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return catalog.Item{}, fmt.Errorf("parse page: %w", err)
	}
	raw, _ := doc.Find(`meta[name="keywords"]`).Attr("content")

	image := bestImage(h.cfg.BaseURL, html)
	if image == "" {
		return catalog.Item{}, errNoImage
	}

	category, err := categoryOf(pageURL)
	if err != nil {
		return catalog.Item{}, err
	}

	return catalog.Item{
		SourceURL:  pageURL,
		ContentURL: image,
		Category:   category,
		Tags:       sanitizeTags(raw),
	}, nil
}

func (h *Harvester) fetchHTML(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return string(body), nil
}

// bestImage picks the rendition with the most pixels among the image paths on
// the page. Paths without a WxH suffix cannot be ranked and are ignored.
func bestImage(baseURL, html string) string {
	var best string
	bestPixels := 0
	for _, m := range imagePattern.FindAllString(html, -1) {
		dims := dimsPattern.FindStringSubmatch(m)
		if dims == nil {
			continue
		}
		w, _ := strconv.Atoi(dims[1])
		h, _ := strconv.Atoi(dims[2])
		if pixels := w * h; pixels > bestPixels {
			bestPixels = pixels
			best = baseURL + m
		}
	}
	return best
}

// sanitizeTags turns the comma-separated keywords meta into hashtag-safe
// tags: whitespace and punctuation collapse to underscores.
func sanitizeTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		t = spacePattern.ReplaceAllString(t, "_")
		t = nonWordPattern.ReplaceAllString(t, "_")
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// categoryOf takes the first path segment of a wallpaper page URL.
func categoryOf(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", fmt.Errorf("no category segment in %s", pageURL)
	}
	return segments[0], nil
}
