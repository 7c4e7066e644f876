package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"yardhop/pkg/domain"
)

type fakeZipSource map[string]domain.ZipCode

func (f fakeZipSource) GetZipCode(zip string) (domain.ZipCode, bool, error) {
	z, ok := f[zip]
	return z, ok, nil
}

type fakeGeocoder struct {
	calls atomic.Int32
	point Point
	found bool
	err   error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, query string) (Point, bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Point{}, false, f.err
	}
	return f.point, f.found, nil
}

func TestValidZip(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"07030", true},
		{" 07030 ", true},
		{"7030", false},
		{"070300", false},
		{"0703a", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidZip(tc.in); got != tc.want {
			t.Errorf("ValidZip(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestResolveZipPrefersGazetteer(t *testing.T) {
	geocoder := &fakeGeocoder{point: Point{Lat: 1, Lng: 2}, found: true}
	r := NewResolver(fakeZipSource{
		"07030": {Zip: "07030", Lat: 40.744, Lng: -74.032},
	}, geocoder)

	p, ok, err := r.ResolveZip(context.Background(), "07030")
	if err != nil {
		t.Fatalf("resolve zip: %v", err)
	}
	if !ok || p.Lat != 40.744 || p.Lng != -74.032 {
		t.Fatalf("got %+v ok=%v, want gazetteer point", p, ok)
	}
	if geocoder.calls.Load() != 0 {
		t.Fatalf("gazetteer hit must not call the geocoder")
	}
}

func TestResolveZipFallsBackToGeocoder(t *testing.T) {
	geocoder := &fakeGeocoder{point: Point{Lat: 33.0, Lng: -97.0}, found: true}
	r := NewResolver(fakeZipSource{}, geocoder)

	p, ok, err := r.ResolveZip(context.Background(), "76201")
	if err != nil {
		t.Fatalf("resolve zip: %v", err)
	}
	if !ok || p.Lat != 33.0 {
		t.Fatalf("got %+v ok=%v, want geocoder fallback", p, ok)
	}
}

func TestResolveZipRejectsMalformed(t *testing.T) {
	geocoder := &fakeGeocoder{found: true}
	r := NewResolver(fakeZipSource{}, geocoder)

	if _, ok, err := r.ResolveZip(context.Background(), "not-a-zip"); ok || err != nil {
		t.Fatalf("malformed zip: ok=%v err=%v", ok, err)
	}
	if geocoder.calls.Load() != 0 {
		t.Fatalf("malformed zip must not reach the geocoder")
	}
}

func TestResolveAddressCachesAnswers(t *testing.T) {
	geocoder := &fakeGeocoder{point: Point{Lat: 40.7, Lng: -74.0}, found: true}
	r := NewResolver(nil, geocoder)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, ok, err := r.ResolveAddress(ctx, "1 Main St, Hoboken NJ")
		if err != nil || !ok || p.Lat != 40.7 {
			t.Fatalf("resolve address: p=%+v ok=%v err=%v", p, ok, err)
		}
	}
	if got := geocoder.calls.Load(); got != 1 {
		t.Fatalf("geocoder called %d times, want 1 (cached)", got)
	}

	// Case-insensitive cache key.
	if _, _, err := r.ResolveAddress(ctx, "1 MAIN ST, hoboken nj"); err != nil {
		t.Fatalf("resolve address: %v", err)
	}
	if got := geocoder.calls.Load(); got != 1 {
		t.Fatalf("geocoder called %d times, want 1 after case change", got)
	}
}

func TestResolveAddressCachesMissesBriefly(t *testing.T) {
	geocoder := &fakeGeocoder{found: false}
	r := NewResolver(nil, geocoder)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	ctx := context.Background()

	if _, ok, err := r.ResolveAddress(ctx, "nowhere"); ok || err != nil {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
	if _, _, err := r.ResolveAddress(ctx, "nowhere"); err != nil {
		t.Fatalf("cached miss: %v", err)
	}
	if got := geocoder.calls.Load(); got != 1 {
		t.Fatalf("geocoder called %d times, want 1 while negative cache holds", got)
	}

	// After the negative TTL the query goes out again.
	r.now = func() time.Time { return base.Add(negativeTTL + time.Second) }
	if _, _, err := r.ResolveAddress(ctx, "nowhere"); err != nil {
		t.Fatalf("retry after ttl: %v", err)
	}
	if got := geocoder.calls.Load(); got != 2 {
		t.Fatalf("geocoder called %d times, want 2 after negative ttl", got)
	}
}

func TestResolveAddressErrorsAreNotCached(t *testing.T) {
	geocoder := &fakeGeocoder{err: errors.New("provider down")}
	r := NewResolver(nil, geocoder)
	ctx := context.Background()

	if _, _, err := r.ResolveAddress(ctx, "1 Main St"); err == nil {
		t.Fatalf("expected provider error")
	}
	if _, _, err := r.ResolveAddress(ctx, "1 Main St"); err == nil {
		t.Fatalf("expected provider error again")
	}
	if got := geocoder.calls.Load(); got != 2 {
		t.Fatalf("geocoder called %d times, want 2 (errors not cached)", got)
	}
}

func TestResolverWithoutGeocoder(t *testing.T) {
	r := NewResolver(fakeZipSource{
		"07030": {Zip: "07030", Lat: 40.744, Lng: -74.032},
	}, nil)
	ctx := context.Background()

	if _, ok, err := r.ResolveZip(ctx, "07030"); !ok || err != nil {
		t.Fatalf("gazetteer zip: ok=%v err=%v", ok, err)
	}
	if _, ok, err := r.ResolveZip(ctx, "99999"); ok || err != nil {
		t.Fatalf("unknown zip without geocoder: ok=%v err=%v", ok, err)
	}
	if _, ok, err := r.ResolveAddress(ctx, "1 Main St"); ok || err != nil {
		t.Fatalf("address without geocoder: ok=%v err=%v", ok, err)
	}
}

func TestHTTPGeocoder(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotKey = r.URL.Query().Get("api_key")
		w.Header().Set("Content-Type", "application/json")
		if gotQuery == "nowhere" {
			w.Write([]byte(`{"results":[]}`))
			return
		}
		w.Write([]byte(`{"results":[{"lat":40.744,"lng":-74.032}]}`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, "secret-key")
	ctx := context.Background()

	p, ok, err := g.Geocode(ctx, "Hoboken NJ")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if !ok || p.Lat != 40.744 || p.Lng != -74.032 {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
	if gotQuery != "Hoboken NJ" || gotKey != "secret-key" {
		t.Fatalf("request params: q=%q api_key=%q", gotQuery, gotKey)
	}

	if _, ok, err := g.Geocode(ctx, "nowhere"); ok || err != nil {
		t.Fatalf("no-match answer: ok=%v err=%v", ok, err)
	}

	if _, _, err := g.Geocode(ctx, "  "); err != nil {
		t.Fatalf("blank query should short-circuit: %v", err)
	}
}

func TestHTTPGeocoderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, "")
	if _, _, err := g.Geocode(context.Background(), "anywhere"); err == nil {
		t.Fatalf("expected error on 502")
	}
}
