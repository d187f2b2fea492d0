package form

import (
	"strings"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Keyword sets mapping discovered fields onto the sender's values. Japanese
// inquiry forms dominate the target sites, so both scripts are listed.
var fieldKeywords = map[string][]string{
	"name":    {"name", "氏名", "名前", "お名前", "担当者", "fullname"},
	"company": {"company", "corp", "会社", "企業", "法人", "貴社", "御社", "organization"},
	"email":   {"email", "mail", "メール"},
	"phone":   {"phone", "tel", "電話"},
	"message": {"message", "inquiry", "contact", "comment", "body", "内容", "本文", "お問い合わせ", "お問合せ", "ご質問", "ご用件", "詳細", "備考"},
}

// Field name prefixes checked before keyword matching; "company_name" must
// map to company, not name.
var matchOrder = []string{"company", "email", "phone", "message", "name"}

// valueFor picks the sender value for one discovered field by matching its
// name and label against known keywords. A textarea always takes the
// message. Unmatched fields return "".
func valueFor(field outreach.FormField, values map[string]string) string {
	if field.Type == "textarea" {
		return values["message"]
	}

	haystack := strings.ToLower(field.Name + " " + field.Label)
	for _, key := range matchOrder {
		for _, kw := range fieldKeywords[key] {
			if strings.Contains(haystack, kw) {
				return values[key]
			}
		}
	}
	if field.Type == "email" {
		return values["email"]
	}
	if field.Type == "tel" {
		return values["phone"]
	}
	return ""
}

// fillable reports whether the submitter should try to type into a field.
func fillable(field outreach.FormField) bool {
	switch field.Type {
	case "text", "email", "tel", "url", "search", "textarea":
		return true
	default:
		return false
	}
}
