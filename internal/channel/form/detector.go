// Package form implements the website contact-form delivery channel:
// detection, field extraction and automated submission.
package form

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Link texts and paths that usually lead to a contact form.
var contactHints = []string{
	"お問い合わせ", "お問合せ", "問い合わせ", "コンタクト",
	"contact", "inquiry", "toiawase", "form",
}

// DetectForm finds the contact form for a site. The top page is scanned for
// an on-page form first, then for links that look like they lead to one.
// A site without any candidate fails with KindNoForm.
func (c *Channel) DetectForm(ctx context.Context, pageURL string) (string, error) {
	page, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return "", outreach.E(outreach.KindValidation, "detect form", fmt.Errorf("parse %s: %w", pageURL, err))
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return "", outreach.E(outreach.KindValidation, "detect form", err)
	}

	if hasContactForm(doc) {
		return page.URL, nil
	}

	if link := findContactLink(doc, base); link != "" {
		return link, nil
	}

	return "", outreach.E(outreach.KindNoForm, "detect form",
		fmt.Errorf("no contact form found on %s", pageURL))
}

// hasContactForm reports whether the document itself carries a fillable
// inquiry form. A textarea is the strongest signal.
func hasContactForm(doc *goquery.Document) bool {
	found := false
	doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("textarea").Length() > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}

// findContactLink returns the first link whose text or target looks like a
// contact page, resolved against base.
func findContactLink(doc *goquery.Document, base *url.URL) string {
	var result string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		target := strings.ToLower(href)
		for _, hint := range contactHints {
			if strings.Contains(text, hint) || strings.Contains(target, hint) {
				if resolved := resolveLink(base, href); resolved != "" {
					result = resolved
					return false
				}
			}
		}
		return true
	})
	return result
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
