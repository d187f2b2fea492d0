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

// Input types that never take outreach content.
var skippedInputTypes = map[string]struct{}{
	"submit":   {},
	"button":   {},
	"image":    {},
	"reset":    {},
	"file":     {},
	"password": {},
}

// ExtractFields fetches the form page and reads the fillable shape of its
// inquiry form. Forms with a textarea win over bare search boxes.
func (c *Channel) ExtractFields(ctx context.Context, formURL string) (outreach.FormSchema, error) {
	page, err := c.fetcher.Fetch(ctx, formURL)
	if err != nil {
		return outreach.FormSchema{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return outreach.FormSchema{}, outreach.E(outreach.KindValidation, "extract fields",
			fmt.Errorf("parse %s: %w", formURL, err))
	}

	sel := pickForm(doc)
	if sel == nil {
		return outreach.FormSchema{}, outreach.E(outreach.KindNoForm, "extract fields",
			fmt.Errorf("no form element on %s", formURL))
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return outreach.FormSchema{}, outreach.E(outreach.KindValidation, "extract fields", err)
	}

	schema := outreach.FormSchema{
		FormURL: page.URL,
		Action:  page.URL,
		Method:  "POST",
	}
	if action, ok := sel.Attr("action"); ok && strings.TrimSpace(action) != "" {
		if resolved := resolveLink(base, action); resolved != "" {
			schema.Action = resolved
		}
	}
	if method, ok := sel.Attr("method"); ok && strings.EqualFold(method, "get") {
		schema.Method = "GET"
	}

	sel.Find("input, textarea, select").Each(func(_ int, s *goquery.Selection) {
		field, ok := readField(doc, s)
		if ok {
			schema.Fields = append(schema.Fields, field)
		}
	})
	if len(schema.Fields) == 0 {
		return outreach.FormSchema{}, outreach.E(outreach.KindNoForm, "extract fields",
			fmt.Errorf("form on %s has no fillable fields", formURL))
	}
	return schema, nil
}

// pickForm chooses the inquiry form: the first form carrying a textarea,
// else the first form at all.
func pickForm(doc *goquery.Document) *goquery.Selection {
	var withTextarea *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("textarea").Length() > 0 {
			withTextarea = s
			return false
		}
		return true
	})
	if withTextarea != nil {
		return withTextarea
	}
	first := doc.Find("form").First()
	if first.Length() == 0 {
		return nil
	}
	return first
}

func readField(doc *goquery.Document, s *goquery.Selection) (outreach.FormField, bool) {
	name, ok := s.Attr("name")
	if !ok || strings.TrimSpace(name) == "" {
		return outreach.FormField{}, false
	}

	fieldType := goquery.NodeName(s)
	if fieldType == "input" {
		fieldType = "text"
		if t, ok := s.Attr("type"); ok && t != "" {
			fieldType = strings.ToLower(t)
		}
		if _, skip := skippedInputTypes[fieldType]; skip {
			return outreach.FormField{}, false
		}
	}

	_, required := s.Attr("required")
	return outreach.FormField{
		Name:     name,
		Type:     fieldType,
		Label:    fieldLabel(doc, s),
		Required: required,
	}, true
}

// fieldLabel resolves the human-facing label: <label for=>, an enclosing
// label, then the placeholder.
func fieldLabel(doc *goquery.Document, s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		if label := doc.Find(fmt.Sprintf("label[for=%q]", id)).First(); label.Length() > 0 {
			return strings.TrimSpace(label.Text())
		}
	}
	if wrapped := s.ParentsFiltered("label").First(); wrapped.Length() > 0 {
		return strings.TrimSpace(wrapped.Text())
	}
	placeholder, _ := s.Attr("placeholder")
	return strings.TrimSpace(placeholder)
}
