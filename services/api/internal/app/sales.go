package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	"yardhop/internal/util"
	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
	"yardhop/pkg/geocode"
	"yardhop/pkg/storage"
	"yardhop/pkg/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	defaultMapLimit  = 200
	maxMapLimit      = 500
	storeFetchCap    = 500
	defaultRadiusKm  = 25.0
	maxRadiusKm      = 160.0
	viewportPadKm    = 2.0
)

// SaleInput is the create payload. Lat/Lng are never accepted from clients;
// the zip (and address, when an external geocoder is configured) decides the
// pin location.
type SaleInput struct {
	Title       string    `json:"title" validate:"required,max=140"`
	Description string    `json:"description" validate:"max=4000"`
	Address     string    `json:"address" validate:"max=200"`
	Zip         string    `json:"zip" validate:"required,len=5"`
	StartsAt    time.Time `json:"startsAt" validate:"required"`
	EndsAt      time.Time `json:"endsAt" validate:"required"`
}

// UpdateSaleInput patches a sale. Nil fields stay untouched.
type UpdateSaleInput struct {
	Title       *string    `json:"title" validate:"omitempty,max=140"`
	Description *string    `json:"description" validate:"omitempty,max=4000"`
	Address     *string    `json:"address" validate:"omitempty,max=200"`
	Zip         *string    `json:"zip" validate:"omitempty,len=5"`
	StartsAt    *time.Time `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
}

// SaleDetail is the public detail view of a sale.
type SaleDetail struct {
	domain.Sale
	Items  []domain.Item  `json:"items"`
	Photos []domain.Photo `json:"photos"`
}

// CreateSale validates the payload, geocodes the location, and stores the
// sale as a draft owned by the caller.
func (a *App) CreateSale(ctx context.Context, owner domain.User, input SaleInput) (domain.Sale, error) {
	if err := a.validate.Struct(input); err != nil {
		return domain.Sale{}, errInvalid("invalid sale payload").WithHint(validationHint(err))
	}
	title := stripHTML(input.Title)
	if title == "" {
		return domain.Sale{}, errInvalid("title required")
	}
	description := stripHTML(input.Description)
	if !input.EndsAt.After(input.StartsAt) {
		return domain.Sale{}, errInvalid("sale must end after it starts")
	}
	zip := strings.TrimSpace(input.Zip)
	if !geocode.ValidZip(zip) {
		return domain.Sale{}, errInvalid("invalid zip code")
	}
	point, found, err := a.geocoder.ResolveZip(ctx, zip)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("geocode zip: %w", err)
	}
	if !found {
		return domain.Sale{}, errInvalid("unknown zip code").WithHint("only US zip codes in the gazetteer are supported")
	}
	address := strings.TrimSpace(input.Address)
	if address != "" {
		// A street-level fix beats the zip centroid; a geocoder failure
		// only costs precision, not the listing.
		addrPoint, addrFound, err := a.geocoder.ResolveAddress(ctx, address)
		if err != nil {
			slog.Warn("address geocoding failed, keeping zip centroid", "zip", zip, "error", err)
		} else if addrFound {
			point = addrPoint
		}
	}
	now := time.Now().UTC()
	sale := domain.Sale{
		ID:          util.NewID(),
		OwnerID:     owner.ID,
		Title:       title,
		Description: description,
		Address:     address,
		Zip:         zip,
		Lat:         point.Lat,
		Lng:         point.Lng,
		StartsAt:    input.StartsAt.UTC(),
		EndsAt:      input.EndsAt.UTC(),
		Status:      domain.SaleDraft,
		Moderation:  domain.ModerationVisible,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveSale(sale); err != nil {
		return domain.Sale{}, fmt.Errorf("save sale: %w", err)
	}
	return sale, nil
}

// UpdateSale applies a partial update. Only the owner (or an admin) may
// edit, and archived sales are frozen.
func (a *App) UpdateSale(ctx context.Context, user domain.User, saleID string, input UpdateSaleInput) (domain.Sale, error) {
	if err := a.validate.Struct(input); err != nil {
		return domain.Sale{}, errInvalid("invalid sale payload").WithHint(validationHint(err))
	}
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == domain.SaleArchived {
		return domain.Sale{}, errConflict("archived sales cannot be edited")
	}
	if input.Title != nil {
		title := stripHTML(*input.Title)
		if title == "" {
			return domain.Sale{}, errInvalid("title required")
		}
		sale.Title = title
	}
	if input.Description != nil {
		sale.Description = stripHTML(*input.Description)
	}
	if input.StartsAt != nil {
		sale.StartsAt = input.StartsAt.UTC()
	}
	if input.EndsAt != nil {
		sale.EndsAt = input.EndsAt.UTC()
	}
	if !sale.EndsAt.After(sale.StartsAt) {
		return domain.Sale{}, errInvalid("sale must end after it starts")
	}
	relocate := false
	if input.Zip != nil {
		zip := strings.TrimSpace(*input.Zip)
		if !geocode.ValidZip(zip) {
			return domain.Sale{}, errInvalid("invalid zip code")
		}
		sale.Zip = zip
		relocate = true
	}
	if input.Address != nil {
		sale.Address = strings.TrimSpace(*input.Address)
		relocate = true
	}
	if relocate {
		point, found, err := a.geocoder.ResolveZip(ctx, sale.Zip)
		if err != nil {
			return domain.Sale{}, fmt.Errorf("geocode zip: %w", err)
		}
		if !found {
			return domain.Sale{}, errInvalid("unknown zip code").WithHint("only US zip codes in the gazetteer are supported")
		}
		if sale.Address != "" {
			addrPoint, addrFound, err := a.geocoder.ResolveAddress(ctx, sale.Address)
			if err != nil {
				slog.Warn("address geocoding failed, keeping zip centroid", "zip", sale.Zip, "error", err)
			} else if addrFound {
				point = addrPoint
			}
		}
		sale.Lat = point.Lat
		sale.Lng = point.Lng
	}
	sale.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveSale(sale); err != nil {
		return domain.Sale{}, fmt.Errorf("save sale: %w", err)
	}
	return sale, nil
}

// PublishSale moves a draft onto the map.
func (a *App) PublishSale(ctx context.Context, user domain.User, saleID string) (domain.Sale, error) {
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == domain.SaleArchived {
		return domain.Sale{}, errConflict("archived sales cannot be republished")
	}
	if sale.Status == domain.SalePublished {
		return sale, nil
	}
	if err := a.store.SetSaleStatus(sale.ID, domain.SalePublished); err != nil {
		return domain.Sale{}, fmt.Errorf("publish sale: %w", err)
	}
	sale.Status = domain.SalePublished
	return sale, nil
}

// ArchiveSale takes a sale off the map for good.
func (a *App) ArchiveSale(ctx context.Context, user domain.User, saleID string) (domain.Sale, error) {
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == domain.SaleArchived {
		return sale, nil
	}
	if err := a.store.SetSaleStatus(sale.ID, domain.SaleArchived); err != nil {
		return domain.Sale{}, fmt.Errorf("archive sale: %w", err)
	}
	sale.Status = domain.SaleArchived
	return sale, nil
}

// DeleteSale removes the sale, its rows, and its stored photos. Photo
// blobs that fail to delete are logged and left for a cleanup sweep.
func (a *App) DeleteSale(ctx context.Context, user domain.User, saleID string) error {
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return err
	}
	photos, err := a.store.ListPhotosBySale(sale.ID)
	if err != nil {
		return fmt.Errorf("list photos: %w", err)
	}
	for _, photo := range photos {
		if err := a.objects.Delete(ctx, photo.StorageKey); err != nil {
			slog.Warn("photo blob delete failed", "sale_id", sale.ID, "key", photo.StorageKey, "error", err)
		}
	}
	if err := a.store.DeleteSale(sale.ID); err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	return nil
}

// GetSaleDetail returns a sale with its items and presigned photo URLs.
// Unlisted sales resolve only for their owner or an admin; everyone else
// gets the same not-found as a sale that never existed.
func (a *App) GetSaleDetail(ctx context.Context, viewer *domain.User, saleID string) (SaleDetail, error) {
	sale, ok, err := a.store.GetSale(saleID)
	if err != nil {
		return SaleDetail{}, fmt.Errorf("fetch sale: %w", err)
	}
	if !ok || !a.canViewSale(viewer, sale) {
		return SaleDetail{}, ErrSaleNotFound
	}
	items, err := a.store.ListItemsBySale(sale.ID)
	if err != nil {
		return SaleDetail{}, fmt.Errorf("list items: %w", err)
	}
	photos, err := a.store.ListPhotosBySale(sale.ID)
	if err != nil {
		return SaleDetail{}, fmt.Errorf("list photos: %w", err)
	}
	for i := range photos {
		url, err := a.objects.PresignGet(ctx, photos[i].StorageKey, storage.DefaultPresignExpiry)
		if err != nil {
			return SaleDetail{}, fmt.Errorf("presign photo: %w", err)
		}
		photos[i].URL = url
	}
	if items == nil {
		items = []domain.Item{}
	}
	if photos == nil {
		photos = []domain.Photo{}
	}
	return SaleDetail{Sale: sale, Items: items, Photos: photos}, nil
}

// ListQuery filters the public list view.
type ListQuery struct {
	NearZip      string
	RadiusKm     float64
	Query        string
	Category     string
	StartsAfter  time.Time
	EndsBefore   time.Time
	PromotedOnly bool
	Limit        int
}

// ListSales runs the list view: an optional zip-radius prefilter box, text
// and schedule filters in the store, then an exact Haversine refine and
// promoted-first ordering.
func (a *App) ListSales(ctx context.Context, q ListQuery) ([]domain.Sale, error) {
	limit := clampLimit(q.Limit, defaultListLimit, maxListLimit)
	filter := store.SaleFilter{
		Query:       strings.TrimSpace(q.Query),
		Category:    strings.ToLower(strings.TrimSpace(q.Category)),
		StartsAfter: q.StartsAfter,
		EndsBefore:  q.EndsBefore,
		Limit:       storeFetchCap,
	}
	now := time.Now().UTC()
	if q.PromotedOnly {
		filter.PromotedAt = now
	}

	var center geo.Point
	near := strings.TrimSpace(q.NearZip)
	radius := q.RadiusKm
	if near != "" {
		if !geocode.ValidZip(near) {
			return nil, errInvalid("invalid near zip")
		}
		point, found, err := a.geocoder.ResolveZip(ctx, near)
		if err != nil {
			return nil, fmt.Errorf("geocode near zip: %w", err)
		}
		if !found {
			return nil, errInvalid("unknown near zip").WithHint("only US zip codes in the gazetteer are supported")
		}
		if radius <= 0 {
			radius = defaultRadiusKm
		}
		if radius > maxRadiusKm {
			radius = maxRadiusKm
		}
		center = geo.Point{Lat: point.Lat, Lng: point.Lng}
		box := geo.FromCenter(center, radius)
		filter.BBox = &box
	}

	sales, err := a.store.SearchSales(filter)
	if err != nil {
		return nil, fmt.Errorf("search sales: %w", err)
	}
	if near != "" {
		// The box prefilter overshoots at the corners; keep only true hits.
		refined := sales[:0]
		for _, sale := range sales {
			if geo.Haversine(center, geo.Point{Lat: sale.Lat, Lng: sale.Lng}) <= radius {
				refined = append(refined, sale)
			}
		}
		sales = refined
	}
	sortSales(sales, now, near != "", center)
	if len(sales) > limit {
		sales = sales[:limit]
	}
	a.recordSearchEvent(q)
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}

// SearchViewport runs the map view for one bounding box. The box is grown
// by a prefetch margin so pins straddling the edge still render.
func (a *App) SearchViewport(ctx context.Context, box geo.BBox, q ListQuery) ([]domain.Sale, error) {
	if !box.Valid() {
		return nil, errInvalid("invalid bounding box").WithHint("expected minLng,minLat,maxLng,maxLat")
	}
	limit := clampLimit(q.Limit, defaultMapLimit, maxMapLimit)
	padded := box.Expand(viewportPadKm)
	filter := store.SaleFilter{
		BBox:        &padded,
		Query:       strings.TrimSpace(q.Query),
		Category:    strings.ToLower(strings.TrimSpace(q.Category)),
		StartsAfter: q.StartsAfter,
		EndsBefore:  q.EndsBefore,
		Limit:       maxMapLimit,
	}
	now := time.Now().UTC()
	if q.PromotedOnly {
		filter.PromotedAt = now
	}
	sales, err := a.store.SearchSales(filter)
	if err != nil {
		return nil, fmt.Errorf("search sales: %w", err)
	}
	sortSales(sales, now, false, geo.Point{})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}

// RecordSaleView bumps the redis view counter and writes a sale_view
// analytics event. Both halves are best effort; a view count is not worth
// a failed page load.
func (a *App) RecordSaleView(ctx context.Context, viewer *domain.User, saleID string) error {
	sale, ok, err := a.store.GetSale(saleID)
	if err != nil {
		return fmt.Errorf("fetch sale: %w", err)
	}
	if !ok || !a.canViewSale(viewer, sale) {
		return ErrSaleNotFound
	}
	if a.views != nil {
		if err := a.views.Bump(ctx, sale.ID); err != nil {
			slog.Warn("view counter bump failed", "sale_id", sale.ID, "error", err)
		}
	}
	event := domain.AnalyticsEvent{
		ID:        util.NewID(),
		Kind:      domain.EventSaleView,
		SaleID:    sale.ID,
		CreatedAt: time.Now().UTC(),
	}
	if viewer != nil {
		event.UserID = viewer.ID
	}
	if err := a.store.SaveAnalyticsEvent(event); err != nil {
		slog.Warn("analytics event write failed", "kind", event.Kind, "error", err)
	}
	return nil
}

// ListMySales returns every sale the caller owns, newest first.
func (a *App) ListMySales(ctx context.Context, user domain.User) ([]domain.Sale, error) {
	sales, err := a.store.ListSalesByOwner(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}

func (a *App) ownedSale(user domain.User, saleID string) (domain.Sale, error) {
	sale, ok, err := a.store.GetSale(saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("fetch sale: %w", err)
	}
	if !ok {
		return domain.Sale{}, ErrSaleNotFound
	}
	if sale.OwnerID != user.ID && user.Role != domain.RoleAdmin {
		return domain.Sale{}, ErrNotSaleOwner
	}
	return sale, nil
}

func (a *App) canViewSale(viewer *domain.User, sale domain.Sale) bool {
	if sale.Listed() {
		return true
	}
	if viewer == nil {
		return false
	}
	return sale.OwnerID == viewer.ID || viewer.Role == domain.RoleAdmin
}

// sortSales orders promoted boosts first, then by distance when a center is
// given, then newest first.
func sortSales(sales []domain.Sale, now time.Time, byDistance bool, center geo.Point) {
	sort.SliceStable(sales, func(i, j int) bool {
		pi, pj := sales[i].Promoted(now), sales[j].Promoted(now)
		if pi != pj {
			return pi
		}
		if byDistance {
			di := geo.Haversine(center, geo.Point{Lat: sales[i].Lat, Lng: sales[i].Lng})
			dj := geo.Haversine(center, geo.Point{Lat: sales[j].Lat, Lng: sales[j].Lng})
			if di != dj {
				return di < dj
			}
		}
		return sales[i].CreatedAt.After(sales[j].CreatedAt)
	})
}

func (a *App) recordSearchEvent(q ListQuery) {
	props := map[string]string{}
	if v := strings.TrimSpace(q.Query); v != "" {
		props["q"] = v
	}
	if v := strings.TrimSpace(q.NearZip); v != "" {
		props["near"] = v
	}
	if v := strings.TrimSpace(q.Category); v != "" {
		props["category"] = v
	}
	if len(props) == 0 {
		return
	}
	event := domain.AnalyticsEvent{
		ID:         util.NewID(),
		Kind:       domain.EventSearch,
		Properties: props,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveAnalyticsEvent(event); err != nil {
		slog.Warn("analytics event write failed", "kind", event.Kind, "error", err)
	}
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// stripHTML reduces user-supplied rich text to plain text with collapsed
// whitespace. Markup from paste-happy browsers never reaches storage.
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<>") {
		return collapseSpace(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return collapseSpace(buf.String())
}

func collapseSpace(s string) string {
	s = strings.ReplaceAll(s, "\x00", " ")
	s = strings.ToValidUTF8(s, "")
	return strings.Join(strings.Fields(s), " ")
}
