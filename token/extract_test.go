package token

import "testing"

const exploreURL = "https://www.xiaohongshu.com/explore"

func TestExtract_FromAnchorHref(t *testing.T) {
	page := `<html><body>
		<a href="/user/profile/abc">profile</a>
		<a href="/explore/65f2?xsec_token=ABsx1_Token-Value%3D&xsec_source=pc_feed">note</a>
	</body></html>`

	tok, ok := Extract(page, exploreURL)
	if !ok {
		t.Fatal("token not found in anchor href")
	}
	if tok != "ABsx1_Token-Value=" {
		t.Errorf("token = %q, want query-decoded value", tok)
	}
}

func TestExtract_FromAbsoluteAnchor(t *testing.T) {
	page := `<a href="https://www.xiaohongshu.com/explore/65f2?xsec_token=PlainToken">x</a>`
	tok, ok := Extract(page, exploreURL)
	if !ok || tok != "PlainToken" {
		t.Errorf("Extract = %q, %v; want PlainToken, true", tok, ok)
	}
}

func TestExtract_FromInitialState(t *testing.T) {
	page := `<html><head><script>
		window.__INITIAL_STATE__={"note":{"noteDetailMap":{"65f2":{"xsecToken":"State/Token=="}}}};
	</script></head><body></body></html>`

	tok, ok := Extract(page, exploreURL)
	if !ok {
		t.Fatal("token not found in initial state")
	}
	if tok != "State/Token==" {
		t.Errorf("token = %q, want unicode escapes decoded", tok)
	}
}

func TestExtract_RawSweepFallback(t *testing.T) {
	page := `<!-- redirect target: /explore/x?xsec_token=RawSwept%3D&src=t -->`
	tok, ok := Extract(page, exploreURL)
	if !ok || tok != "RawSwept=" {
		t.Errorf("Extract = %q, %v; want RawSwept=, true", tok, ok)
	}
}

func TestExtract_AnchorWinsOverScript(t *testing.T) {
	page := `<html><body>
		<script>var x = {"xsecToken":"FromScript"};</script>
		<a href="/explore/1?xsec_token=FromAnchor">n</a>
	</body></html>`

	tok, _ := Extract(page, exploreURL)
	if tok != "FromAnchor" {
		t.Errorf("token = %q, anchors should be checked first", tok)
	}
}

func TestExtract_NotFound(t *testing.T) {
	pages := []string{
		"",
		"<html><body><p>nothing here</p></body></html>",
		`<a href="/explore/1?other_param=x">n</a>`,
	}
	for _, page := range pages {
		if tok, ok := Extract(page, exploreURL); ok {
			t.Errorf("Extract(%q) = %q, want not found", page, tok)
		}
	}
}
