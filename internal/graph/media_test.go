package graph

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestMetricsForMedia(t *testing.T) {
	tests := []struct {
		name        string
		mediaType   string
		productType string
		contains    string
		excludes    string
	}{
		{
			name:        "feed image",
			mediaType:   "IMAGE",
			productType: "FEED",
			contains:    "profile_visits",
			excludes:    "ig_reels_video_view_total_time",
		},
		{
			name:        "reel",
			mediaType:   "VIDEO",
			productType: "REELS",
			contains:    "ig_reels_video_view_total_time",
			excludes:    "profile_visits",
		},
		{
			name:        "story",
			mediaType:   "STORY",
			productType: "STORY",
			contains:    "replies",
			excludes:    "total_interactions",
		},
		{
			name:        "unknown product type falls back to feed",
			mediaType:   "IMAGE",
			productType: "SOMETHING_NEW",
			contains:    "total_interactions",
			excludes:    "replies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := MetricsForMedia(tt.mediaType, tt.productType)
			if !strings.Contains(metrics, tt.contains) {
				t.Errorf("metrics %q should contain %q", metrics, tt.contains)
			}
			if tt.excludes != "" && strings.Contains(metrics, tt.excludes) {
				t.Errorf("metrics %q should not contain %q", metrics, tt.excludes)
			}
		})
	}
}

func TestListMediaPagination(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if after := r.URL.Query().Get("after"); after == "" {
			fmt.Fprint(w, `{
				"data":[{"id":"m1","media_type":"IMAGE","timestamp":"2024-05-01T10:00:00+0000"}],
				"paging":{"cursors":{"after":"CURSOR1"},"next":"https://next.page"}
			}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"m2","media_type":"VIDEO","media_product_type":"REELS"}],"paging":{"cursors":{"after":"CURSOR2"}}}`)
	}))

	page1, next, err := client.ListMedia(context.Background(), "123", "tok", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page1) != 1 || page1[0].ID != "m1" {
		t.Fatalf("unexpected first page: %+v", page1)
	}
	if next != "CURSOR1" {
		t.Fatalf("expected cursor CURSOR1, got %q", next)
	}
	if page1[0].PostedAt().IsZero() {
		t.Error("expected parseable timestamp")
	}

	page2, next, err := client.ListMedia(context.Background(), "123", "tok", next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != "m2" {
		t.Fatalf("unexpected second page: %+v", page2)
	}
	// No paging.next means the listing is exhausted
	if next != "" {
		t.Errorf("expected empty cursor at end of listing, got %q", next)
	}
}

func TestMediaInsightsFlattening(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"name":"views","period":"lifetime","values":[{"value":100}]},
			{"name":"likes","period":"lifetime","values":[{"value":10}]},
			{"name":"profile_activity","period":"lifetime","total_value":{"value":5,"breakdowns":{"results":[]}}}
		]}`)
	}))

	values, err := client.MediaInsights(context.Background(), "m1", "tok", "views,likes,profile_activity")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values["views"] != float64(100) {
		t.Errorf("expected views=100, got %v", values["views"])
	}
	if values["likes"] != float64(10) {
		t.Errorf("expected likes=10, got %v", values["likes"])
	}
	if _, ok := values["profile_activity"].(map[string]interface{}); !ok {
		t.Errorf("expected breakdown object for profile_activity, got %T", values["profile_activity"])
	}
}
