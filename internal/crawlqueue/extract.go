package crawlqueue

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Site chrome that must never be mistaken for a company name.
var invalidNames = map[string]struct{}{
	"企業情報":       {},
	"会社概要":       {},
	"ホーム":        {},
	"トップページ":     {},
	"トップ":        {},
	"公式サイト":      {},
	"コーポレートサイト":  {},
	"オフィシャルサイト":  {},
	"ウェブサイト":     {},
	"ホームページ":     {},
}

var (
	separatorRe  = regexp.MustCompile(`\s*[|｜/／\-–].*$`)
	entityMoveRe = regexp.MustCompile(`^(株式会社|（株）|\(株\)|㈱)(.+)$`)
	trailerRe    = regexp.MustCompile(`(企業情報|会社概要|公式サイト|トップページ|ホーム|オフィシャルサイト|コーポレートサイト).*$`)
)

// ExtractDisplayName pulls the site's own name for a company out of its top
// page. Candidates are tried in confidence order: <title>, og:site_name,
// <h1> headings carrying a 株式会社 marker, then logo alt text. It returns
// "" when nothing usable is found; callers keep the stored name in that
// case.
func ExtractDisplayName(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}

	if name := cleanDisplayName(doc.Find("title").First().Text()); name != "" {
		return name
	}

	if site, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		if name := cleanDisplayName(site); name != "" {
			return name
		}
	}

	var fromH1 string
	doc.Find("h1").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "株式会社") {
			return true
		}
		fromH1 = cleanDisplayName(text)
		return fromH1 == ""
	})
	if fromH1 != "" {
		return fromH1
	}

	var fromAlt string
	doc.Find("img[alt]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		alt, _ := s.Attr("alt")
		if !strings.Contains(alt, "株式会社") && !strings.Contains(alt, "コーポレーション") {
			return true
		}
		fromAlt = cleanDisplayName(alt)
		return fromAlt == ""
	})
	return fromAlt
}

// cleanDisplayName normalizes one candidate: everything after a separator
// goes, a leading 株式会社 moves behind the name, site-chrome words are
// rejected outright.
func cleanDisplayName(raw string) string {
	name := collapseWhitespace(raw)
	name = separatorRe.ReplaceAllString(name, "")
	name = trailerRe.ReplaceAllString(name, "")
	if m := entityMoveRe.FindStringSubmatch(name); m != nil {
		name = strings.TrimSpace(m[2]) + "株式会社"
	}
	name = strings.TrimSpace(name)

	if _, bad := invalidNames[name]; bad {
		return ""
	}
	if n := len([]rune(name)); n < 2 || n > 50 {
		return ""
	}
	return name
}
