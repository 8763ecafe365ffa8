package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prperemyshlev/identity-service/internal/domain"
)

// insertNewTokens persists every token that has no ID yet and assigns one
func insertNewTokens(ctx context.Context, q queryer, userID string, tokens []domain.OAuthToken) error {
	query := `
		INSERT INTO oauth_tokens (id, user_id, kind, access_token, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	for i := range tokens {
		if tokens[i].ID != "" {
			continue
		}

		id := uuid.New().String()
		if tokens[i].CreatedAt.IsZero() {
			tokens[i].CreatedAt = time.Now()
		}

		_, err := q.ExecContext(ctx, query,
			id,
			userID,
			string(tokens[i].Kind),
			tokens[i].AccessToken,
			tokens[i].CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create oauth token: %w", err)
		}

		tokens[i].ID = id
	}

	return nil
}

// syncTokens removes persisted tokens missing from tokens and inserts new ones
func syncTokens(ctx context.Context, q queryer, userID string, tokens []domain.OAuthToken) error {
	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.ID != "" {
			kept = append(kept, t.ID)
		}
	}

	query := `DELETE FROM oauth_tokens WHERE user_id = $1 AND NOT (id::text = ANY($2))`

	if _, err := q.ExecContext(ctx, query, userID, pq.Array(kept)); err != nil {
		return fmt.Errorf("failed to delete removed oauth tokens: %w", err)
	}

	return insertNewTokens(ctx, q, userID, tokens)
}

// getTokensByUserID retrieves all oauth tokens for a user in insertion order
func getTokensByUserID(ctx context.Context, q queryer, userID string) ([]domain.OAuthToken, error) {
	query := `
		SELECT id, kind, access_token, created_at
		FROM oauth_tokens
		WHERE user_id = $1
		ORDER BY created_at, id
	`

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens by user id: %w", err)
	}
	defer rows.Close()

	var tokens []domain.OAuthToken
	for rows.Next() {
		var token domain.OAuthToken
		var kind string

		if err := rows.Scan(&token.ID, &kind, &token.AccessToken, &token.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}

		token.Kind = domain.Provider(kind)
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}

	return tokens, nil
}
