package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

const profileFields = "id,username,name,biography,profile_picture_url,website,followers_count,follows_count,media_count"

// AccountProfile fetches the account's basic profile fields
func (c *Client) AccountProfile(ctx context.Context, accountID, token string) (*Profile, error) {
	query := url.Values{}
	query.Set("fields", profileFields)

	body, err := c.getNode(ctx, accountID, query, token)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}
