package crawlqueue

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/skuwata/outreachd/internal/outreach"
)

// maxContentRunes caps stored page text so one bloated site cannot blow up
// a company row.
const maxContentRunes = 20000

// CleanContent reduces a fetched page to the readable text used as
// generation context: scripts, styles and markup are stripped, whitespace
// is collapsed.
func CleanContent(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", outreach.E(outreach.KindValidation, "clean content", fmt.Errorf("parse html: %w", err))
	}

	doc.Find("script, style, noscript, iframe, svg, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	text := collapseWhitespace(root.Text())
	if runes := []rune(text); len(runes) > maxContentRunes {
		text = string(runes[:maxContentRunes])
	}
	return text, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
