// Package web turns a URL into extracted page text, rendering with a headless
// browser so client-side content is visible, and optionally following
// same-origin links within one job.
package web

import "context"

// Page is one rendered document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
}

// Renderer loads a URL with script execution and returns the settled DOM.
// Implementations decide how rendering happens (in-process browser,
// out-of-process worker); the pipeline depends only on this contract.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
}
