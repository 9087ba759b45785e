package graph

import (
	"time"
)

// Media mirrors a remote media item; referenced by id only, never owned
type Media struct {
	ID               string `json:"id"`
	MediaType        string `json:"media_type"`
	MediaProductType string `json:"media_product_type"`
	Timestamp        string `json:"timestamp"`
	Caption          string `json:"caption"`
	Permalink        string `json:"permalink"`
	MediaURL         string `json:"media_url"`
	ThumbnailURL     string `json:"thumbnail_url"`
	Children         struct {
		Data []MediaChild `json:"data"`
	} `json:"children"`
}

// MediaChild is one item of a carousel
type MediaChild struct {
	ID        string `json:"id"`
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
}

// Graph timestamps come as ISO8601 with a compact zone offset
const graphTimeLayout = "2006-01-02T15:04:05-0700"

// PostedAt parses the media timestamp; zero time when unparseable
func (m Media) PostedAt() time.Time {
	if t, err := time.Parse(graphTimeLayout, m.Timestamp); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
		return t
	}
	return time.Time{}
}

// Profile holds account-level profile fields
type Profile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	Biography         string `json:"biography"`
	ProfilePictureURL string `json:"profile_picture_url"`
	Website           string `json:"website"`
	FollowersCount    int64  `json:"followers_count"`
	FollowsCount      int64  `json:"follows_count"`
	MediaCount        int64  `json:"media_count"`
}

// InsightsResult aggregates per-metric fetches: partial failures land in
// Errors while collected values stay usable.
type InsightsResult struct {
	Values map[string]interface{}
	Errors []string
}

// insightEntry is the wire shape of one insights data item
type insightEntry struct {
	Name   string `json:"name"`
	Period string `json:"period"`
	Values []struct {
		Value interface{} `json:"value"`
	} `json:"values"`
	TotalValue *struct {
		Value      interface{} `json:"value"`
		Breakdowns interface{} `json:"breakdowns"`
	} `json:"total_value"`
}

// flatValue extracts the latest value of an insight entry, preferring
// total_value (with its breakdowns when present).
func (e *insightEntry) flatValue() interface{} {
	if e.TotalValue != nil {
		if e.TotalValue.Breakdowns != nil {
			return map[string]interface{}{
				"value":      e.TotalValue.Value,
				"breakdowns": e.TotalValue.Breakdowns,
			}
		}
		return e.TotalValue.Value
	}
	if len(e.Values) > 0 {
		return e.Values[len(e.Values)-1].Value
	}
	return nil
}
