package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"kbase/internal/kberr"
)

// Config carries the per-job crawl rules supplied at submit time.
type Config struct {
	FollowLinks      bool
	IncludePaths     []string
	ExcludePaths     []string
	IncludeSelectors []string
	ExcludeSelectors []string
}

// PageText is the extracted content of one visited page.
type PageText struct {
	URL  string
	Text string
}

// Visit records the outcome of one page fetch, successful or not.
type Visit struct {
	URL   string
	Depth int
	Error string
}

type Result struct {
	Pages   []PageText
	Visited []Visit
}

// Fetcher drives the renderer across a seed URL and, when configured, its
// same-origin links. MaxPages bounds a single job's crawl.
type Fetcher struct {
	renderer Renderer
	maxPages int
}

func NewFetcher(renderer Renderer, maxPages int) *Fetcher {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Fetcher{renderer: renderer, maxPages: maxPages}
}

type frontierItem struct {
	url   string
	depth int
}

// Fetch renders the seed page (and linked pages when follow_links is set) and
// returns extracted text in visit order. A bot-protection signature aborts the
// whole crawl immediately; a network failure on the seed is fatal while child
// page failures are recorded and skipped.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, cfg Config) (Result, error) {
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return Result{}, kberr.Validation("invalid url %q", rawURL)
	}

	var res Result
	queue := []frontierItem{{url: normalizeURL(base), depth: 0}}
	visited := map[string]bool{queue[0].url: true}

	for len(queue) > 0 && len(res.Visited) < f.maxPages {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		item := queue[0]
		queue = queue[1:]
		seed := item.depth == 0

		page, err := f.renderer.Render(ctx, item.url)
		if err != nil {
			if seed {
				return res, kberr.Network(err, "render %s", item.url)
			}
			slog.WarnContext(ctx, "page render failed, skipping", "url", item.url, "error", err)
			res.Visited = append(res.Visited, Visit{URL: item.url, Depth: item.depth, Error: err.Error()})
			continue
		}

		if IsBotProtected(page.StatusCode, page.HTML) {
			res.Visited = append(res.Visited, Visit{URL: item.url, Depth: item.depth, Error: "bot protection"})
			return res, kberr.BotProtected(item.url)
		}

		if page.StatusCode >= 400 {
			err := fmt.Errorf("http status %d", page.StatusCode)
			if seed {
				return res, kberr.Network(err, "fetch %s", item.url)
			}
			res.Visited = append(res.Visited, Visit{URL: item.url, Depth: item.depth, Error: err.Error()})
			continue
		}

		text, err := ExtractText(page.HTML, cfg.IncludeSelectors, cfg.ExcludeSelectors)
		if err != nil {
			if seed {
				return res, kberr.Parse(err, "extract %s", item.url)
			}
			res.Visited = append(res.Visited, Visit{URL: item.url, Depth: item.depth, Error: err.Error()})
			continue
		}

		res.Visited = append(res.Visited, Visit{URL: item.url, Depth: item.depth})
		if text != "" {
			res.Pages = append(res.Pages, PageText{URL: item.url, Text: text})
		}

		if !cfg.FollowLinks {
			continue
		}

		links, err := ExtractLinks(page.HTML, base)
		if err != nil {
			slog.WarnContext(ctx, "link extraction failed", "url", item.url, "error", err)
			continue
		}
		for _, link := range links {
			u, err := url.Parse(link)
			if err != nil {
				continue
			}
			if !pathAllowed(u.Path, cfg.IncludePaths, cfg.ExcludePaths) {
				continue
			}
			if visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, frontierItem{url: link, depth: item.depth + 1})
		}
	}

	return res, nil
}

// pathAllowed applies exclude globs first, then include globs; no include
// globs means everything passes. A trailing "*" in a pattern also matches as
// a path prefix, so "/docs/*" covers nested pages.
func pathAllowed(p string, includes, excludes []string) bool {
	if p == "" {
		p = "/"
	}
	for _, pattern := range excludes {
		if globMatch(pattern, p) {
			return false
		}
	}
	if len(includes) == 0 {
		return true
	}
	for _, pattern := range includes {
		if globMatch(pattern, p) {
			return true
		}
	}
	return false
}

func globMatch(pattern, p string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if ok, err := path.Match(pattern, p); err == nil && ok {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(p, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func normalizeURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	return clone.String()
}
