package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const mediaFields = "id,media_type,media_product_type,timestamp,caption,permalink,media_url,thumbnail_url,children{id,media_type,media_url}"

const mediaPageSize = "25"

// ListMedia returns one page of an account's media plus the cursor for
// the next page ("" when exhausted). The caller drives pagination and
// enforces the page ceiling. Listing always requires the user's own
// token; system tokens cannot read another account's media edge.
func (c *Client) ListMedia(ctx context.Context, accountID, token, after string) ([]Media, string, error) {
	query := url.Values{}
	query.Set("fields", mediaFields)
	query.Set("limit", mediaPageSize)
	if after != "" {
		query.Set("after", after)
	}

	items, paging, err := c.getList(ctx, accountID+"/media", query, token)
	if err != nil {
		return nil, "", err
	}

	media := make([]Media, 0, len(items))
	for _, raw := range items {
		var m Media
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, "", fmt.Errorf("failed to decode media item: %w", err)
		}
		media = append(media, m)
	}

	next := ""
	if paging != nil && paging.Next != "" {
		next = paging.Cursors.After
	}
	return media, next, nil
}

// Valid metric sets differ by product type; mixing names across sets is
// rejected by the API. Domain data, not logic.
var (
	feedMetrics = []string{
		"views", "likes", "comments", "shares", "saved",
		"total_interactions", "reach", "follows", "profile_visits",
	}
	reelMetrics = []string{
		"views", "likes", "comments", "shares", "saved",
		"total_interactions", "reach",
		"ig_reels_video_view_total_time", "ig_reels_avg_watch_time",
	}
	storyMetrics = []string{
		"views", "reach", "replies", "follows", "profile_visits",
	}
)

// MetricsForMedia returns the comma-separated insight metric list valid
// for a media item's product type.
func MetricsForMedia(mediaType, productType string) string {
	switch strings.ToUpper(productType) {
	case "REELS":
		return strings.Join(reelMetrics, ",")
	case "STORY":
		return strings.Join(storyMetrics, ",")
	case "FEED", "AD", "":
		return strings.Join(feedMetrics, ",")
	default:
		return strings.Join(feedMetrics, ",")
	}
}

// MediaInsights fetches per-media insights and flattens them into a map
// of metric name to latest value (scalar or nested breakdown object).
func (c *Client) MediaInsights(ctx context.Context, mediaID, token, metrics string) (map[string]interface{}, error) {
	query := url.Values{}
	query.Set("metric", metrics)

	items, _, err := c.getList(ctx, mediaID+"/insights", query, token)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{}, len(items))
	for _, raw := range items {
		var entry insightEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode insight entry: %w", err)
		}
		if entry.Name == "" {
			continue
		}
		if v := entry.flatValue(); v != nil {
			values[entry.Name] = v
		}
	}
	return values, nil
}
