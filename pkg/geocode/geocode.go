package geocode

import (
	"context"
	"regexp"
	"strings"
	"time"

	"yardhop/pkg/domain"
)

const (
	hitTTL      = 24 * time.Hour
	negativeTTL = 5 * time.Minute
)

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// Point is a resolved location.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ZipSource answers zip lookups from the imported gazetteer.
type ZipSource interface {
	GetZipCode(zip string) (domain.ZipCode, bool, error)
}

// Resolver resolves zips and free-text addresses to points. Zips hit the
// gazetteer first; everything else goes to the external geocoder, when one
// is configured, with answers memoized in process.
type Resolver struct {
	zips     ZipSource
	geocoder Geocoder
	cache    *ttlCache
	now      func() time.Time
}

// NewResolver builds a resolver. geocoder may be nil, which degrades to
// gazetteer-only resolution.
func NewResolver(zips ZipSource, geocoder Geocoder) *Resolver {
	return &Resolver{
		zips:     zips,
		geocoder: geocoder,
		cache:    newTTLCache(),
		now:      time.Now,
	}
}

// ValidZip reports whether s looks like a five-digit US zip.
func ValidZip(s string) bool {
	return zipPattern.MatchString(strings.TrimSpace(s))
}

// ResolveZip resolves a five-digit zip, preferring the gazetteer and
// falling back to the external geocoder for zips the import missed.
func (r *Resolver) ResolveZip(ctx context.Context, zip string) (Point, bool, error) {
	zip = strings.TrimSpace(zip)
	if !ValidZip(zip) {
		return Point{}, false, nil
	}
	if r.zips != nil {
		row, ok, err := r.zips.GetZipCode(zip)
		if err != nil {
			return Point{}, false, err
		}
		if ok {
			return Point{Lat: row.Lat, Lng: row.Lng}, true, nil
		}
	}
	return r.lookup(ctx, "zip:"+zip, zip)
}

// ResolveAddress resolves a free-text address through the external
// geocoder. Without one the address simply does not resolve.
func (r *Resolver) ResolveAddress(ctx context.Context, address string) (Point, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Point{}, false, nil
	}
	return r.lookup(ctx, "addr:"+strings.ToLower(address), address)
}

func (r *Resolver) lookup(ctx context.Context, cacheKey, query string) (Point, bool, error) {
	if r.geocoder == nil {
		return Point{}, false, nil
	}
	now := r.now()
	if p, found, ok := r.cache.get(cacheKey, now); ok {
		return p, found, nil
	}
	p, found, err := r.geocoder.Geocode(ctx, query)
	if err != nil {
		return Point{}, false, err
	}
	ttl := hitTTL
	if !found {
		ttl = negativeTTL
	}
	r.cache.set(cacheKey, p, found, ttl, now)
	return p, found, nil
}
