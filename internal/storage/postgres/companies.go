package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/skuwata/outreachd/internal/outreach"
)

// GetCompany implements outreach.CompanyStore.
func (s *Store) GetCompany(ctx context.Context, companyID string) (outreach.Company, error) {
	const q = `SELECT id, name, COALESCE(url, ''), COALESCE(dm_profile, ''),
		COALESCE(website_content, ''), COALESCE(website_display_name, ''), last_crawled_at
		FROM companies WHERE id = $1`

	var company outreach.Company
	err := s.pool.QueryRow(ctx, q, companyID).Scan(
		&company.ID, &company.Name, &company.URL, &company.DMProfile,
		&company.Content, &company.DisplayName, &company.LastCrawledAt,
	)
	if err != nil {
		return outreach.Company{}, fmt.Errorf("get company %s: %w", companyID, err)
	}
	return company, nil
}

// UpdateCrawlResult implements outreach.CompanyStore. An empty display name
// leaves the stored one in place so a weak extraction never erases a good
// earlier result.
func (s *Store) UpdateCrawlResult(ctx context.Context, companyID, content, displayName string, crawledAt time.Time) error {
	const q = `UPDATE companies SET
		website_content = $2,
		website_display_name = COALESCE(NULLIF($3, ''), website_display_name),
		last_crawled_at = $4, updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, companyID, content, displayName, crawledAt)
	if err != nil {
		return fmt.Errorf("update crawl result for company %s: %w", companyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update crawl result for company %s: company not found", companyID)
	}
	return nil
}
