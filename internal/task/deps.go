package task

import (
	"context"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/asset"
	"galleryfetch/internal/metadata"
	"galleryfetch/internal/model"
)

// Resolver finds the adapter for an entry URL.
type Resolver interface {
	Resolve(rawURL string) (*adapter.SiteAdapter, error)
}

// MetadataExtractor reads title, page count and cover from an entry page.
type MetadataExtractor interface {
	Extract(ctx context.Context, rawURL string, site *adapter.SiteAdapter) (metadata.Info, error)
}

// Discoverer resolves the ordered asset list of an entry page.
type Discoverer interface {
	Discover(ctx context.Context, rawURL string, site *adapter.SiteAdapter) ([]model.Asset, error)
}

// AssetFetcher downloads and persists single assets and the cover.
type AssetFetcher interface {
	Fetch(ctx context.Context, a model.Asset, destDir string, seq int) asset.Result
	FetchCover(ctx context.Context, rawURL string) ([]byte, error)
	SaveCover(data []byte, destDir string) (string, error)
}
