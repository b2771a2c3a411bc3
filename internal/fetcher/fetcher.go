// Package fetcher downloads remote files referenced by agent output.
package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// MaxJSONBytes caps the size of a JSON document read by FetchJSON.
const MaxJSONBytes = 10 << 20

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// FetchJSON downloads url and decodes its body into out.
func FetchJSON(ctx context.Context, f Fetcher, url string, out any) error {
	body, err := f.Download(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, MaxJSONBytes))
	if err != nil {
		return eris.Wrap(err, "fetcher: read json body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "fetcher: decode json")
	}
	return nil
}
