package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// accountMetricSpec describes one account-level metric call. The API
// forbids mixing several of these in a single request, so each metric is
// fetched on its own.
type accountMetricSpec struct {
	Name      string
	Breakdown string
}

var accountInsightMetrics = []accountMetricSpec{
	{Name: "reach"},
	{Name: "views"},
	{Name: "total_interactions"},
	{Name: "accounts_engaged"},
	{Name: "profile_links_taps", Breakdown: "contact_button_type"},
	{Name: "follows_and_unfollows", Breakdown: "follow_type"},
}

// AccountInsights fetches account-level insights metric by metric.
// systemToken flags calls made with the app-scoped fallback token, which
// requires metric_type=total_value where user tokens do not. Partial
// failures are collected; an error is returned only when nothing at all
// was fetched or a token failure occurred.
func (c *Client) AccountInsights(ctx context.Context, accountID, token, period string, systemToken bool) (*InsightsResult, error) {
	result := &InsightsResult{Values: make(map[string]interface{})}

	for _, spec := range accountInsightMetrics {
		query := url.Values{}
		query.Set("metric", spec.Name)
		query.Set("period", period)
		if spec.Breakdown != "" {
			query.Set("breakdown", spec.Breakdown)
		}
		if systemToken || spec.Breakdown != "" {
			query.Set("metric_type", "total_value")
		}

		value, err := c.fetchSingleInsight(ctx, accountID, query, token)
		if err != nil {
			var tokenErr *TokenError
			if errors.As(err, &tokenErr) {
				return nil, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", spec.Name, err))
			continue
		}
		if value != nil {
			result.Values[spec.Name] = value
		}
	}

	if len(result.Values) == 0 && len(result.Errors) > 0 {
		return nil, fmt.Errorf("no account insights collected: %s", strings.Join(result.Errors, "; "))
	}
	return result, nil
}

var demographicMetrics = []string{
	"follower_demographics",
	"engaged_audience_demographics",
}

var demographicBreakdowns = []string{"city", "country", "age", "gender"}

// Demographics fetches audience demographics, one call per metric and
// breakdown. Accounts below the audience threshold get a "not enough
// data" error from the API; that is a soft skip, not a failure.
func (c *Client) Demographics(ctx context.Context, accountID, token string) (*InsightsResult, error) {
	result := &InsightsResult{Values: make(map[string]interface{})}

	for _, metric := range demographicMetrics {
		byBreakdown := make(map[string]interface{})
		for _, breakdown := range demographicBreakdowns {
			query := url.Values{}
			query.Set("metric", metric)
			query.Set("period", "lifetime")
			query.Set("timeframe", "this_month")
			query.Set("breakdown", breakdown)
			query.Set("metric_type", "total_value")

			value, err := c.fetchSingleInsight(ctx, accountID, query, token)
			if err != nil {
				var tokenErr *TokenError
				if errors.As(err, &tokenErr) {
					return nil, err
				}
				if isInsufficientData(err) {
					continue
				}
				result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", metric, breakdown, err))
				continue
			}
			if value != nil {
				byBreakdown[breakdown] = value
			}
		}
		if len(byBreakdown) > 0 {
			result.Values[metric] = byBreakdown
		}
	}

	if len(result.Values) == 0 && len(result.Errors) > 0 {
		return nil, fmt.Errorf("no demographics collected: %s", strings.Join(result.Errors, "; "))
	}
	return result, nil
}

// fetchSingleInsight performs one insights call and flattens the first
// returned entry.
func (c *Client) fetchSingleInsight(ctx context.Context, accountID string, query url.Values, token string) (interface{}, error) {
	items, _, err := c.getList(ctx, accountID+"/insights", query, token)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	var entry insightEntry
	if err := json.Unmarshal(items[0], &entry); err != nil {
		return nil, fmt.Errorf("failed to decode insight entry: %w", err)
	}
	return entry.flatValue(), nil
}

// isInsufficientData matches the API's too-small-audience responses
func isInsufficientData(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 10 {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "not enough")
	}
	return false
}
