package web

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const faqHTML = `
<html><head><title>FAQ</title><script>var x = "noise";</script></head>
<body>
  <nav class="menu"><a href="/home">Home</a> promo banner text</nav>
  <main>
    <h1>Frequently Asked Questions</h1>
    <p>Our refund policy lasts 30 days.</p>
    <p>Shipping takes five business days.</p>
  </main>
  <footer id="footer">© Example Shop</footer>
</body></html>`

func TestExtractText_FullBody(t *testing.T) {
	text, err := ExtractText(faqHTML, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "refund policy")
	assert.Contains(t, text, "promo banner")
	assert.NotContains(t, text, "var x")
}

func TestExtractText_IncludeSelectors(t *testing.T) {
	text, err := ExtractText(faqHTML, []string{"main"}, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "refund policy")
	assert.NotContains(t, text, "promo banner")
	assert.NotContains(t, text, "Example Shop")
}

func TestExtractText_ExcludeSelectors(t *testing.T) {
	text, err := ExtractText(faqHTML, nil, []string{"nav.menu", "#footer"})
	require.NoError(t, err)
	assert.Contains(t, text, "refund policy")
	assert.NotContains(t, text, "promo banner")
	assert.NotContains(t, text, "Example Shop")
}

func TestExtractText_IncludeWithNoMatchYieldsEmpty(t *testing.T) {
	text, err := ExtractText(faqHTML, []string{".does-not-exist"}, nil)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractLinks_SameOriginOnly(t *testing.T) {
	html := `<body>
	  <a href="/faq">FAQ</a>
	  <a href="https://shop.test/contact#form">Contact</a>
	  <a href="https://othersite.test/page">External</a>
	  <a href="mailto:help@shop.test">Mail</a>
	  <a href="/faq">FAQ duplicate</a>
	</body>`
	base, _ := url.Parse("https://shop.test/")

	links, err := ExtractLinks(html, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/faq", "https://shop.test/contact"}, links)
}

func TestExtractLinks_ResolvesRelative(t *testing.T) {
	base, _ := url.Parse("https://shop.test/docs/intro")
	links, err := ExtractLinks(`<a href="../help/sizing">Sizing</a>`, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/help/sizing"}, links)
}
