package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fxf-vault/internal/fetch"
)

// ErrOriginNotFound is returned when no version in [1, V] of a bundle could
// be fetched. It does not prove the bundle never existed.
var ErrOriginNotFound = errors.New("origin version not found")

// Origin is the first published version of a bundle.
type Origin struct {
	Version int    `json:"version"`
	URL     string `json:"url"`
}

// Locator finds the version at which a bundle first appeared.
type Locator struct {
	fetcher fetch.Fetcher
}

// NewLocator creates a Locator probing through f.
func NewLocator(f fetch.Fetcher) *Locator {
	return &Locator{fetcher: f}
}

// Locate probes url at versions 1, 2, ... up to the version embedded in url
// and returns the first that can be fetched together with its content.
// Availability is not assumed to be monotonic, so the scan is linear.
func (l *Locator) Locate(ctx context.Context, url string) (Origin, string, error) {
	upper, err := VersionOf(url)
	if err != nil {
		return Origin{}, "", err
	}

	base := StripVersion(url)
	for v := 1; v <= upper; v++ {
		if err := ctx.Err(); err != nil {
			return Origin{}, "", err
		}

		candidate := AddVersion(base, v)
		content, err := l.fetcher.Fetch(ctx, candidate)
		if err != nil {
			if !errors.Is(err, fetch.ErrFetchFailed) {
				return Origin{}, "", err
			}
			continue
		}

		slog.Debug("located bundle origin", slog.String("url", url), slog.Int("version", v))
		return Origin{Version: v, URL: candidate}, content, nil
	}

	return Origin{}, "", fmt.Errorf("%w: %s", ErrOriginNotFound, url)
}
