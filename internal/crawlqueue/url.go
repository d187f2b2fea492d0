package crawlqueue

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skuwata/outreachd/internal/outreach"
)

// TopPageURL reduces a company URL to its origin (scheme://host). Deep
// links are crawled from the top page so extraction sees the landing
// content. A URL without a scheme is assumed to be https.
func TopPageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", outreach.E(outreach.KindValidation, "top page url", fmt.Errorf("empty URL"))
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", outreach.E(outreach.KindValidation, "top page url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", outreach.E(outreach.KindValidation, "top page url", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", outreach.E(outreach.KindValidation, "top page url", fmt.Errorf("no host in %q", raw))
	}
	return u.Scheme + "://" + u.Host, nil
}
