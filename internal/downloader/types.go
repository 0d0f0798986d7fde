// Package downloader orchestrates the cloud catalog: refreshing the app
// list, downloading releases through the Rclone Facade, and tracking
// availability as the backing config is (re)initialized.
package downloader

import "time"

// PopularityWindow selects one of the three aggregation windows a CloudApp
// may be enriched with.
type PopularityWindow string

const (
	Popularity1Day  PopularityWindow = "Day1"
	Popularity7Day  PopularityWindow = "Day7"
	Popularity30Day PopularityWindow = "Day30"
)

// Popularity holds the normalized (0..100) popularity percentage per
// window, each independently optional since a window's data may be missing
// or all-zero.
type Popularity struct {
	Day1  *float64 `json:"day1,omitempty"`
	Day7  *float64 `json:"day7,omitempty"`
	Day30 *float64 `json:"day30,omitempty"`
}

// CloudApp is one catalog entry as loaded from a Repo, optionally enriched
// with popularity. LastUpdated is kept as the catalog's raw string (its
// format varies by source) rather than parsed into a time.Time.
type CloudApp struct {
	AppName     string      `json:"appName"`
	FullName    string      `json:"fullName"`
	PackageName string      `json:"packageName"`
	VersionCode int64       `json:"versionCode"`
	LastUpdated string      `json:"lastUpdated"`
	SizeBytes   int64       `json:"sizeBytes"`
	Popularity  *Popularity `json:"popularity,omitempty"`
}

// DownloadMetadata is the content of a download directory's metadata.json.
type DownloadMetadata struct {
	FormatVersion int       `json:"formatVersion"`
	FullName      string    `json:"fullName"`
	AppName       string    `json:"appName,omitempty"`
	PackageName   string    `json:"packageName,omitempty"`
	VersionCode   *int64    `json:"versionCode,omitempty"`
	LastUpdated   string    `json:"lastUpdated,omitempty"`
	SizeBytes     *int64    `json:"sizeBytes,omitempty"`
	DownloadedAt  time.Time `json:"downloadedAt"`
}

// LegacyReleaseJSON mirrors the historical release.json shape kept for
// compatibility when Settings.WriteLegacyReleaseJSON is set: PascalCase
// fields, size reported in megabytes rather than bytes.
type LegacyReleaseJSON struct {
	GameName    string `json:"GameName,omitempty"`
	ReleaseName string `json:"ReleaseName"`
	PackageName string `json:"PackageName,omitempty"`
	VersionCode *int64 `json:"VersionCode,omitempty"`
	LastUpdated string `json:"LastUpdated,omitempty"`
	GameSize    int64  `json:"GameSize,omitempty"` // megabytes, truncated
}

// AppDetails is the optional enrichment payload fetched per-package.
type AppDetails struct {
	PackageName string   `json:"packageName"`
	Title       string   `json:"title,omitempty"`
	Developer   string   `json:"developer,omitempty"`
	Description string   `json:"description,omitempty"`
	IconURL     string   `json:"iconUrl,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
}

// ReviewSort selects the ordering for FetchAppReviews.
type ReviewSort string

const (
	ReviewSortHelpful ReviewSort = "helpful"
	ReviewSortNewest  ReviewSort = "newest"
)

// AppReview is one user review entry.
type AppReview struct {
	Author  string    `json:"author"`
	Rating  int       `json:"rating"`
	Text    string    `json:"text"`
	Posted  time.Time `json:"posted"`
	Helpful int       `json:"helpful"`
}
