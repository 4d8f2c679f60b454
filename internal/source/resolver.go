package source

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultScheme is prefixed to catchup paths to build the upstream locator.
const DefaultScheme = "rtsp://"

// TimeRangeParam is the query parameter selecting a channel's playback template.
const TimeRangeParam = "tvdr"

// Target is a resolved upstream source. Shareable targets may be served to
// many clients from one upstream process; time-ranged ones never are.
type Target struct {
	Locator   string
	Shareable bool
}

// Resolver turns request paths into upstream targets.
type Resolver struct {
	catalog Catalog
	scheme  string
}

// NewResolver returns a Resolver using catalog for /tv lookups and scheme for
// catchup locators. An empty scheme means DefaultScheme; a nil catalog knows
// no channels.
func NewResolver(catalog Catalog, scheme string) *Resolver {
	if scheme == "" {
		scheme = DefaultScheme
	}
	if catalog == nil {
		catalog = &InMemoryCatalog{channels: map[string]Channel{}}
	}
	return &Resolver{catalog: catalog, scheme: scheme}
}

// ResolveCatchup builds a locator from the raw (still escaped) path that
// followed /catchup/. Empty segments are dropped. A non-empty rawQuery is
// carried over to the locator and makes the target private.
func (r *Resolver) ResolveCatchup(rawPath, rawQuery string) (Target, error) {
	parts := strings.Split(rawPath, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return Target{}, fmt.Errorf("%w: empty catchup path", ErrMalformedSource)
	}

	locator := r.scheme + strings.Join(kept, "/")
	if rawQuery != "" {
		return Target{Locator: locator + "?" + rawQuery, Shareable: false}, nil
	}
	return Target{Locator: locator, Shareable: true}, nil
}

// ResolveChannel looks channelID up in the catalog. Without a tvdr parameter
// the live locator is returned (shareable); with one, the playback template
// is expanded for the requested range (private).
func (r *Resolver) ResolveChannel(channelID string, query url.Values) (Target, error) {
	ch, ok := r.catalog.Lookup(channelID)
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrChannelNotFound, channelID)
	}

	if !query.Has(TimeRangeParam) {
		if ch.Live == "" {
			return Target{}, fmt.Errorf("%w: channel %q has no live source", ErrMalformedSource, channelID)
		}
		return Target{Locator: ch.Live, Shareable: true}, nil
	}

	tr, err := ParseTimeRange(query.Get(TimeRangeParam))
	if err != nil {
		return Target{}, err
	}
	if ch.Playback == "" {
		return Target{}, fmt.Errorf("%w: %q", ErrPlaybackUnsupported, channelID)
	}
	return Target{Locator: ExpandTemplate(ch.Playback, tr), Shareable: false}, nil
}
