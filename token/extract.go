// Package token pulls xsec_token values out of rendered pages. The token
// rides along in three places depending on how the page was built: as a
// query parameter on note links, inside the serialized initial state
// (window.__INITIAL_STATE__), or loose in the page text. Extraction
// tries them in that order.
package token

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var (
	// anchorSel matches links carrying the token as a query parameter,
	// e.g. /explore/<id>?xsec_token=...&xsec_source=pc_feed
	anchorSel = cascadia.MustCompile(`a[href*="xsec_token="]`)

	// inlineTokenRe matches tokens serialized into a state blob.
	inlineTokenRe = regexp.MustCompile(`"xsecToken"\s*:\s*"([^"]+)"`)

	// rawTokenRe is the last-ditch sweep over the raw page text.
	rawTokenRe = regexp.MustCompile(`xsec_token=([A-Za-z0-9%._~=+-]+)`)
)

// Extract returns the first xsec_token found in the page, or false when
// the page carries none.
func Extract(rawHTML, sourceURL string) (string, bool) {
	if tok := fromAnchors(rawHTML, sourceURL); tok != "" {
		return tok, true
	}
	if tok := fromScripts(rawHTML); tok != "" {
		return tok, true
	}
	if m := rawTokenRe.FindStringSubmatch(rawHTML); m != nil {
		return unescape(m[1]), true
	}
	return "", false
}

// fromAnchors scans link hrefs for a token query parameter. Relative
// hrefs are resolved against the source URL first, mirroring how the
// browser would follow them.
func fromAnchors(rawHTML, sourceURL string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		base = nil
	}

	for _, node := range anchorSel.MatchAll(doc) {
		href := attrVal(node, "href")
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if tok := ref.Query().Get("xsec_token"); tok != "" {
			return tok
		}
	}
	return ""
}

// fromScripts scans inline scripts for a serialized token.
func fromScripts(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "xsecToken") {
			return true
		}
		if m := inlineTokenRe.FindStringSubmatch(text); m != nil {
			found = decodeJSONEscapes(m[1])
			return false
		}
		return true
	})
	return found
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// decodeJSONEscapes resolves \uXXXX escapes the regex capture keeps verbatim.
func decodeJSONEscapes(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	if unquoted, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return unquoted
	}
	return s
}

// unescape undoes URL encoding on a token captured from raw text.
func unescape(s string) string {
	if dec, err := url.QueryUnescape(s); err == nil && dec != "" {
		return dec
	}
	return s
}
