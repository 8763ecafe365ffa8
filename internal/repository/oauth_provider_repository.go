package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prperemyshlev/identity-service/internal/domain"
)

// upsertProviderLink stores the user's link for link.Provider, replacing the
// previous provider user id if the user already had one
func upsertProviderLink(ctx context.Context, q queryer, userID string, link domain.ProviderLink) error {
	query := `
		INSERT INTO oauth_providers (id, user_id, provider, provider_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT ` + userProviderConstraint + `
		DO UPDATE SET provider_user_id = EXCLUDED.provider_user_id
	`

	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := q.ExecContext(ctx, query,
		uuid.New().String(),
		userID,
		string(link.Provider),
		link.ProviderUserID,
		createdAt,
	)
	if err != nil {
		if dupErr := uniqueViolation(err); dupErr != nil {
			return fmt.Errorf("%s account %s is linked to another user: %w", link.Provider, link.ProviderUserID, dupErr)
		}
		return fmt.Errorf("failed to store oauth provider link: %w", err)
	}

	return nil
}

// syncProviderLinks makes the stored links of a user equal to links
func syncProviderLinks(ctx context.Context, q queryer, userID string, links []domain.ProviderLink) error {
	providers := make([]string, 0, len(links))
	for _, link := range links {
		providers = append(providers, string(link.Provider))
	}

	query := `DELETE FROM oauth_providers WHERE user_id = $1 AND NOT (provider = ANY($2))`

	if _, err := q.ExecContext(ctx, query, userID, pq.Array(providers)); err != nil {
		return fmt.Errorf("failed to delete stale oauth provider links: %w", err)
	}

	for _, link := range links {
		if err := upsertProviderLink(ctx, q, userID, link); err != nil {
			return err
		}
	}

	return nil
}

// getProviderLinksByUserID retrieves all provider links for a user
func getProviderLinksByUserID(ctx context.Context, q queryer, userID string) ([]domain.ProviderLink, error) {
	query := `
		SELECT provider, provider_user_id, created_at
		FROM oauth_providers
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth providers by user id: %w", err)
	}
	defer rows.Close()

	var links []domain.ProviderLink
	for rows.Next() {
		var link domain.ProviderLink
		var provider string

		if err := rows.Scan(&provider, &link.ProviderUserID, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan oauth provider: %w", err)
		}

		link.Provider = domain.Provider(provider)
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate oauth providers: %w", err)
	}

	return links, nil
}
