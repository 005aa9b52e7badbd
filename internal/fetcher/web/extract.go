package web

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText pulls visible text out of rendered HTML. Subtrees matching any
// exclude selector are dropped first; then text is taken from the include
// selector matches, or the whole body when no include selectors are given.
func ExtractText(html string, includeSelectors, excludeSelectors []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	// Script and style payloads are never content.
	doc.Find("script, style, noscript, iframe").Remove()
	for _, sel := range excludeSelectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		doc.Find(sel).Remove()
	}

	var parts []string
	if len(includeSelectors) > 0 {
		for _, sel := range includeSelectors {
			sel = strings.TrimSpace(sel)
			if sel == "" {
				continue
			}
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				if t := strings.TrimSpace(s.Text()); t != "" {
					parts = append(parts, t)
				}
			})
		}
	}
	if len(parts) == 0 && len(includeSelectors) == 0 {
		if t := strings.TrimSpace(doc.Find("body").Text()); t != "" {
			parts = append(parts, t)
		}
	}

	return collapseWhitespace(strings.Join(parts, "\n\n")), nil
}

// ExtractLinks returns absolute same-origin links found in the document,
// fragments stripped, in document order.
func ExtractLinks(html string, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if abs.Host != base.Host {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links, nil
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)
var lineSpaceRe = regexp.MustCompile(`[ \t]+`)

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lineSpaceRe.ReplaceAllString(lines[i], " "))
	}
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
