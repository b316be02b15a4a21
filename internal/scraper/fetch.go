package scraper

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
)

const maxPageBytes = 2 << 20

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// Contact-page candidates tried after the homepage. French sites get the
// French paths first; legal-notice pages are a reliable email source for
// FR businesses.
var (
	frenchContactPaths  = []string{"/contact", "/nous-contacter", "/contactez-nous", "/mentions-legales", "/a-propos"}
	defaultContactPaths = []string{"/contact", "/contact-us", "/about", "/about-us", "/legal"}
)

var tagStripRe = regexp.MustCompile(`<[^>]*>`)

// Fetcher retrieves website pages with bounded size, per-request timeout
// and a rotating user agent.
type Fetcher struct {
	client     *http.Client
	maxRetries int
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		maxRetries: 2,
	}
}

// Get fetches one page and returns its body as a string.
func (f *Fetcher) Get(ctx context.Context, pageURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
		req.Header.Set("Accept", "text/html,application/xhtml+xml")

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("%s: status %d", pageURL, resp.StatusCode)
			continue
		}
		return string(body), nil
	}
	return "", lastErr
}

// CleanURL normalizes a spreadsheet website value into a fetchable URL.
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

// DomainOf extracts the bare host from a website value.
func DomainOf(raw string) string {
	cleaned := CleanURL(raw)
	if cleaned == "" {
		return ""
	}
	parsed, err := url.Parse(cleaned)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
}

// contactPathsFor picks candidate contact paths based on the homepage
// language.
func contactPathsFor(homepage string) []string {
	text := tagStripRe.ReplaceAllString(homepage, " ")
	if len(text) > 4096 {
		text = text[:4096]
	}
	info := whatlanggo.Detect(text)
	if info.Lang == whatlanggo.Fra {
		return frenchContactPaths
	}
	return defaultContactPaths
}

// DiscoverEmails crawls a company website (homepage plus a bounded set of
// contact-page candidates) and returns every address found, prioritized.
func (f *Fetcher) DiscoverEmails(ctx context.Context, website string) ([]string, error) {
	base := CleanURL(website)
	if base == "" {
		return nil, fmt.Errorf("empty website")
	}
	domain := DomainOf(website)

	homepage, err := f.Get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}

	seen := make(map[string]struct{})
	ordered := make([]string, 0)
	collect := func(content string) {
		for _, email := range ExtractEmails(content, domain) {
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			ordered = append(ordered, email)
		}
	}

	collect(homepage)
	if len(ordered) > 0 {
		return ordered, nil
	}

	for _, path := range contactPathsFor(homepage) {
		if ctx.Err() != nil {
			return ordered, ctx.Err()
		}
		content, err := f.Get(ctx, base+path)
		if err != nil {
			continue
		}
		collect(content)
		if len(ordered) > 0 {
			break
		}
	}
	return ordered, nil
}
