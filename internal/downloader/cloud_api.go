package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"sidedock/internal/core"
)

const popularityTimeout = 5 * time.Second

// These are vars rather than consts so tests can point them at an
// httptest.Server instead of the real cloud endpoints.
var (
	appDetailsBaseURL = "https://qloader.5698452.xyz/api/v1/oculusgames/"
	popularityURL     = "https://qloader.5698452.xyz/api/v1/popularity"
	trackDownloadURL  = "https://qloader.5698452.xyz/api/v2/reportdownload"
	reviewsURL        = "https://reviews.5698452.xyz"
)

// CloudAPIClient drives the small set of enrichment/telemetry REST calls the
// catalog and download paths use: per-package details, app reviews,
// normalized popularity, and best-effort download-event reporting.
type CloudAPIClient struct {
	HTTPClient *http.Client
}

func (c *CloudAPIClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// FetchAppDetails fetches enrichment details for a package. A 404 is not an
// error: it's reported as (nil, nil), since many catalog entries simply have
// no enrichment data.
func (c *CloudAPIClient) FetchAppDetails(ctx context.Context, packageName string) (*AppDetails, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, appDetailsBaseURL+url.PathEscape(packageName), nil)
	if err != nil {
		return nil, core.Wrap(core.KindNetwork, "build app details request", err)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, core.Wrap(core.KindNetwork, "fetch app details", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.Wrap(core.KindNetwork, "fetch app details",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var details AppDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, core.Wrap(core.KindProtocol, "parse app details", err)
	}
	return &details, nil
}

type reviewsResponse struct {
	Reviews []AppReview `json:"reviews"`
	Total   int         `json:"total"`
}

// FetchAppReviews fetches a page of reviews for appID, ordered by sortBy.
func (c *CloudAPIClient) FetchAppReviews(ctx context.Context, appID string, limit, offset int, sortBy ReviewSort) ([]AppReview, int, error) {
	if sortBy != ReviewSortHelpful && sortBy != ReviewSortNewest {
		return nil, 0, core.Wrap(core.KindConfiguration, "fetch app reviews",
			fmt.Errorf("invalid sortBy %q", sortBy))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reviewsURL, nil)
	if err != nil {
		return nil, 0, core.Wrap(core.KindNetwork, "build reviews request", err)
	}
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("appId", appID)
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("offset", fmt.Sprintf("%d", offset))
	q.Set("sortBy", string(sortBy))
	req.URL.RawQuery = q.Encode()

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, 0, core.Wrap(core.KindNetwork, "fetch app reviews", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, core.Wrap(core.KindNetwork, "fetch app reviews",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var payload reviewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, core.Wrap(core.KindProtocol, "parse app reviews", err)
	}
	return payload.Reviews, payload.Total, nil
}

type popularityEntry struct {
	PackageName string `json:"package_name"`
	Day1        uint64 `json:"1D"`
	Day7        uint64 `json:"7D"`
	Day30       uint64 `json:"30D"`
}

// ApplyPopularity fetches popularity data and enriches apps in place,
// matching packages on PackageName. Each window is normalized independently
// against its own maximum; a window whose max is zero, or an entry whose own
// value is zero, is left unset rather than reported as 0%.
func (c *CloudAPIClient) ApplyPopularity(ctx context.Context, apps []CloudApp) error {
	if len(apps) == 0 {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, popularityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, popularityURL, nil)
	if err != nil {
		return core.Wrap(core.KindNetwork, "build popularity request", err)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return core.Wrap(core.KindNetwork, "fetch popularity", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.Wrap(core.KindNetwork, "fetch popularity",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var entries []popularityEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return core.Wrap(core.KindProtocol, "parse popularity", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var max1, max7, max30 uint64
	byPackage := make(map[string]popularityEntry, len(entries))
	for _, e := range entries {
		if e.Day1 > max1 {
			max1 = e.Day1
		}
		if e.Day7 > max7 {
			max7 = e.Day7
		}
		if e.Day30 > max30 {
			max30 = e.Day30
		}
		byPackage[e.PackageName] = e
	}
	if max1 == 0 && max7 == 0 && max30 == 0 {
		return nil
	}

	normalize := func(value, max uint64) *float64 {
		if max == 0 || value == 0 {
			return nil
		}
		pct := math.Round(float64(value) / float64(max) * 100.0)
		if pct > 100 {
			pct = 100
		}
		return &pct
	}

	for i := range apps {
		entry, ok := byPackage[apps[i].PackageName]
		if !ok {
			continue
		}
		p1 := normalize(entry.Day1, max1)
		p7 := normalize(entry.Day7, max7)
		p30 := normalize(entry.Day30, max30)
		if p1 != nil || p7 != nil || p30 != nil {
			apps[i].Popularity = &Popularity{Day1: p1, Day7: p7, Day30: p30}
		}
	}
	return nil
}

// TrackDownload reports a completed download to the analytics endpoint.
// Failures are the caller's to downgrade to a warning, per the best-effort
// contract: a network hiccup here must never fail the download itself.
func (c *CloudAPIClient) TrackDownload(ctx context.Context, installationID, truePackageName string) error {
	body, err := json.Marshal(map[string]string{
		"installation_id": installationID,
		"package_name":     truePackageName,
	})
	if err != nil {
		return core.Wrap(core.KindProtocol, "marshal track download request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trackDownloadURL, bytes.NewReader(body))
	if err != nil {
		return core.Wrap(core.KindNetwork, "build track download request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return core.Wrap(core.KindNetwork, "send track download event", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.Wrap(core.KindNetwork, "send track download event",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}
