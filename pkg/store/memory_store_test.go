package store

import (
	"reflect"
	"testing"
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
)

var saleBase = time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC)

func testSale(id, ownerID string, lat, lng float64, startsAt time.Time) domain.Sale {
	return domain.Sale{
		ID:         id,
		OwnerID:    ownerID,
		Title:      "Sale " + id,
		Lat:        lat,
		Lng:        lng,
		StartsAt:   startsAt,
		EndsAt:     startsAt.Add(6 * time.Hour),
		Status:     domain.SalePublished,
		Moderation: domain.ModerationVisible,
		CreatedAt:  startsAt.Add(-24 * time.Hour),
		UpdatedAt:  startsAt.Add(-24 * time.Hour),
	}
}

func saleIDsOf(sales []domain.Sale) []string {
	ids := make([]string, 0, len(sales))
	for _, s := range sales {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestMemoryStoreSearchSalesOnlyListed(t *testing.T) {
	s := NewMemoryStore()

	listed := testSale("s-listed", "u-1", 40.0, -74.0, saleBase)
	draft := testSale("s-draft", "u-1", 40.0, -74.0, saleBase)
	draft.Status = domain.SaleDraft
	hidden := testSale("s-hidden", "u-1", 40.0, -74.0, saleBase)
	hidden.Moderation = domain.ModerationHidden
	archived := testSale("s-archived", "u-1", 40.0, -74.0, saleBase)
	archived.Status = domain.SaleArchived

	for _, sale := range []domain.Sale{listed, draft, hidden, archived} {
		if err := s.SaveSale(sale); err != nil {
			t.Fatalf("save sale %s: %v", sale.ID, err)
		}
	}

	got, err := s.SearchSales(SaleFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if want := []string{"s-listed"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("got %v, want %v", saleIDsOf(got), want)
	}
}

func TestMemoryStoreSearchSalesByBBox(t *testing.T) {
	s := NewMemoryStore()

	inside := testSale("s-in", "u-1", 40.5, -74.5, saleBase)
	edge := testSale("s-edge", "u-1", 41.0, -75.0, saleBase)
	outside := testSale("s-out", "u-1", 42.0, -74.5, saleBase)
	for _, sale := range []domain.Sale{inside, edge, outside} {
		if err := s.SaveSale(sale); err != nil {
			t.Fatalf("save sale: %v", err)
		}
	}

	box := geo.BBox{MinLat: 40.0, MinLng: -75.0, MaxLat: 41.0, MaxLng: -74.0}
	got, err := s.SearchSales(SaleFilter{BBox: &box})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if want := []string{"s-edge", "s-in"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("got %v, want %v", saleIDsOf(got), want)
	}
}

func TestMemoryStoreSearchSalesByQueryAndCategory(t *testing.T) {
	s := NewMemoryStore()

	tools := testSale("s-tools", "u-1", 40.0, -74.0, saleBase)
	tools.Title = "Garage clear-out"
	tools.Description = "Power TOOLS and ladders"
	books := testSale("s-books", "u-1", 40.0, -74.0, saleBase.Add(time.Hour))
	books.Title = "Moving sale"
	for _, sale := range []domain.Sale{tools, books} {
		if err := s.SaveSale(sale); err != nil {
			t.Fatalf("save sale: %v", err)
		}
	}
	if err := s.SaveItem(domain.Item{ID: "i-1", SaleID: "s-books", Name: "Novels", Category: "books"}); err != nil {
		t.Fatalf("save item: %v", err)
	}

	got, err := s.SearchSales(SaleFilter{Query: "tools"})
	if err != nil {
		t.Fatalf("search query: %v", err)
	}
	if want := []string{"s-tools"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("query match: got %v, want %v", saleIDsOf(got), want)
	}

	got, err = s.SearchSales(SaleFilter{Category: "books"})
	if err != nil {
		t.Fatalf("search category: %v", err)
	}
	if want := []string{"s-books"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("category match: got %v, want %v", saleIDsOf(got), want)
	}

	got, err = s.SearchSales(SaleFilter{Category: "furniture"})
	if err != nil {
		t.Fatalf("search missing category: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no match for unused category, got %v", saleIDsOf(got))
	}
}

func TestMemoryStoreSearchSalesByScheduleAndPromotion(t *testing.T) {
	s := NewMemoryStore()

	early := testSale("s-early", "u-1", 40.0, -74.0, saleBase)
	late := testSale("s-late", "u-1", 40.0, -74.0, saleBase.Add(48*time.Hour))
	boosted := testSale("s-boosted", "u-1", 40.0, -74.0, saleBase.Add(24*time.Hour))
	boosted.PromotedUntil = saleBase.Add(72 * time.Hour)
	for _, sale := range []domain.Sale{early, late, boosted} {
		if err := s.SaveSale(sale); err != nil {
			t.Fatalf("save sale: %v", err)
		}
	}

	got, err := s.SearchSales(SaleFilter{StartsAfter: saleBase.Add(12 * time.Hour)})
	if err != nil {
		t.Fatalf("search starts after: %v", err)
	}
	if want := []string{"s-boosted", "s-late"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("starts after: got %v, want %v", saleIDsOf(got), want)
	}

	got, err = s.SearchSales(SaleFilter{EndsBefore: saleBase.Add(36 * time.Hour)})
	if err != nil {
		t.Fatalf("search ends before: %v", err)
	}
	if want := []string{"s-early", "s-boosted"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("ends before: got %v, want %v", saleIDsOf(got), want)
	}

	got, err = s.SearchSales(SaleFilter{PromotedAt: saleBase.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("search promoted: %v", err)
	}
	if want := []string{"s-boosted"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("promoted: got %v, want %v", saleIDsOf(got), want)
	}
}

func TestMemoryStoreSearchSalesOrderAndLimit(t *testing.T) {
	s := NewMemoryStore()

	// Insert out of chronological order.
	for _, sale := range []domain.Sale{
		testSale("s-b", "u-1", 40.0, -74.0, saleBase.Add(2*time.Hour)),
		testSale("s-a", "u-1", 40.0, -74.0, saleBase),
		testSale("s-c", "u-1", 40.0, -74.0, saleBase.Add(4*time.Hour)),
	} {
		if err := s.SaveSale(sale); err != nil {
			t.Fatalf("save sale: %v", err)
		}
	}

	got, err := s.SearchSales(SaleFilter{Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if want := []string{"s-a", "s-b"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("got %v, want %v", saleIDsOf(got), want)
	}
}

func TestMemoryStoreSaveSalePreservesViewCount(t *testing.T) {
	s := NewMemoryStore()

	sale := testSale("s-1", "u-1", 40.0, -74.0, saleBase)
	if err := s.SaveSale(sale); err != nil {
		t.Fatalf("save sale: %v", err)
	}
	if err := s.AddSaleViews(map[string]int64{"s-1": 7}); err != nil {
		t.Fatalf("add views: %v", err)
	}

	sale.Title = "Renamed"
	if err := s.SaveSale(sale); err != nil {
		t.Fatalf("update sale: %v", err)
	}
	got, ok, err := s.GetSale("s-1")
	if err != nil || !ok {
		t.Fatalf("get sale: ok=%v err=%v", ok, err)
	}
	if got.Title != "Renamed" {
		t.Fatalf("update lost: title=%q", got.Title)
	}
	if got.ViewCount != 7 {
		t.Fatalf("view count clobbered: got %d, want 7", got.ViewCount)
	}
}

func TestMemoryStoreDeleteSaleKeepsPurchaseRecord(t *testing.T) {
	s := NewMemoryStore()

	if err := s.SaveSale(testSale("s-1", "u-1", 40.0, -74.0, saleBase)); err != nil {
		t.Fatalf("save sale: %v", err)
	}
	if err := s.SaveItem(domain.Item{ID: "i-1", SaleID: "s-1", Name: "Chair"}); err != nil {
		t.Fatalf("save item: %v", err)
	}
	if err := s.SavePhoto(domain.Photo{ID: "p-1", SaleID: "s-1", StorageKey: "sales/s-1/p-1"}); err != nil {
		t.Fatalf("save photo: %v", err)
	}
	if err := s.SaveFavorite(domain.Favorite{UserID: "u-2", SaleID: "s-1"}); err != nil {
		t.Fatalf("save favorite: %v", err)
	}
	if err := s.SaveReport(domain.Report{ID: "r-1", SaleID: "s-1", ReporterID: "u-2", Status: domain.ReportOpen}); err != nil {
		t.Fatalf("save report: %v", err)
	}
	if err := s.SavePromotion(domain.Promotion{ID: "promo-1", SaleID: "s-1", BuyerID: "u-1", Status: domain.PromotionActive}); err != nil {
		t.Fatalf("save promotion: %v", err)
	}
	if err := s.SavePaymentEvent(domain.PaymentEvent{ID: "pe-1", ProviderID: "evt_1"}); err != nil {
		t.Fatalf("save payment event: %v", err)
	}

	if err := s.DeleteSale("s-1"); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	if _, ok, _ := s.GetSale("s-1"); ok {
		t.Fatalf("sale should be gone")
	}
	if _, ok, _ := s.GetItem("i-1"); ok {
		t.Fatalf("items should cascade")
	}
	if _, ok, _ := s.GetPhoto("p-1"); ok {
		t.Fatalf("photos should cascade")
	}
	if has, _ := s.HasFavorite("u-2", "s-1"); has {
		t.Fatalf("favorites should cascade")
	}
	if _, ok, _ := s.GetReport("r-1"); ok {
		t.Fatalf("reports should cascade")
	}
	// Money trails survive the sale.
	if _, ok, _ := s.GetPromotion("promo-1"); !ok {
		t.Fatalf("promotions must survive sale deletion")
	}
	if has, _ := s.HasPaymentEvent("evt_1"); !has {
		t.Fatalf("payment events must survive sale deletion")
	}
}

func TestMemoryStoreFavorites(t *testing.T) {
	s := NewMemoryStore()

	first := testSale("s-first", "u-1", 40.0, -74.0, saleBase)
	second := testSale("s-second", "u-1", 40.0, -74.0, saleBase)
	hidden := testSale("s-hidden", "u-1", 40.0, -74.0, saleBase)
	hidden.Moderation = domain.ModerationHidden
	for _, sale := range []domain.Sale{first, second, hidden} {
		if err := s.SaveSale(sale); err != nil {
			t.Fatalf("save sale: %v", err)
		}
	}

	now := saleBase
	for i, saleID := range []string{"s-first", "s-second", "s-hidden"} {
		f := domain.Favorite{UserID: "u-2", SaleID: saleID, CreatedAt: now.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveFavorite(f); err != nil {
			t.Fatalf("save favorite: %v", err)
		}
	}

	has, err := s.HasFavorite("u-2", "s-first")
	if err != nil || !has {
		t.Fatalf("has favorite: has=%v err=%v", has, err)
	}

	// Saving again keeps the original timestamp, so ordering is stable.
	if err := s.SaveFavorite(domain.Favorite{UserID: "u-2", SaleID: "s-first", CreatedAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("re-save favorite: %v", err)
	}

	got, err := s.ListFavoriteSales("u-2")
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if want := []string{"s-second", "s-first"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("favorites order: got %v, want %v", saleIDsOf(got), want)
	}

	if err := s.DeleteFavorite("u-2", "s-first"); err != nil {
		t.Fatalf("delete favorite: %v", err)
	}
	if has, _ := s.HasFavorite("u-2", "s-first"); has {
		t.Fatalf("favorite should be gone")
	}
}

func TestMemoryStoreDrafts(t *testing.T) {
	s := NewMemoryStore()

	old := domain.Draft{OwnerID: "u-1", Key: "weekend-sale", Payload: []byte(`{"title":"v1"}`), UpdatedAt: saleBase}
	if err := s.SaveDraft(old); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	newer := domain.Draft{OwnerID: "u-1", Key: "garage", Payload: []byte(`{"title":"v2"}`), UpdatedAt: saleBase.Add(time.Hour)}
	if err := s.SaveDraft(newer); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	other := domain.Draft{OwnerID: "u-2", Key: "weekend-sale", Payload: []byte(`{}`), UpdatedAt: saleBase}
	if err := s.SaveDraft(other); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	got, ok, err := s.GetDraft("u-1", "weekend-sale")
	if err != nil || !ok {
		t.Fatalf("get draft: ok=%v err=%v", ok, err)
	}
	if string(got.Payload) != `{"title":"v1"}` {
		t.Fatalf("unexpected payload: %s", got.Payload)
	}

	// Same key for another owner is a separate draft.
	if _, ok, _ := s.GetDraft("u-2", "garage"); ok {
		t.Fatalf("draft must be scoped to its owner")
	}

	// Replacing under the same key overwrites.
	old.Payload = []byte(`{"title":"v3"}`)
	old.UpdatedAt = saleBase.Add(2 * time.Hour)
	if err := s.SaveDraft(old); err != nil {
		t.Fatalf("replace draft: %v", err)
	}

	list, err := s.ListDraftsByOwner("u-1")
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(list) != 2 || list[0].Key != "weekend-sale" || list[1].Key != "garage" {
		keys := make([]string, 0, len(list))
		for _, d := range list {
			keys = append(keys, d.Key)
		}
		t.Fatalf("drafts order: got %v, want [weekend-sale garage]", keys)
	}

	if err := s.DeleteDraft("u-1", "garage"); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, ok, _ := s.GetDraft("u-1", "garage"); ok {
		t.Fatalf("draft should be gone")
	}
}

func TestMemoryStoreDigestCandidatesOrdering(t *testing.T) {
	s := NewMemoryStore()
	now := saleBase

	busy := testSale("s-busy", "u-1", 40.5, -74.5, now.Add(24*time.Hour))
	quiet := testSale("s-quiet", "u-1", 40.6, -74.4, now.Add(24*time.Hour))
	ended := testSale("s-ended", "u-1", 40.5, -74.5, now.Add(-48*time.Hour))
	far := testSale("s-far", "u-1", 10.0, 10.0, now.Add(24*time.Hour))
	hidden := testSale("s-hid", "u-1", 40.5, -74.5, now.Add(24*time.Hour))
	hidden.Moderation = domain.ModerationHidden
	for _, sale := range []domain.Sale{busy, quiet, ended, far, hidden} {
		if err := s.SaveSale(sale); err != nil {
			t.Fatalf("save sale: %v", err)
		}
	}
	if err := s.AddSaleViews(map[string]int64{"s-busy": 50, "s-quiet": 3}); err != nil {
		t.Fatalf("add views: %v", err)
	}

	box := geo.BBox{MinLat: 40.0, MinLng: -75.0, MaxLat: 41.0, MaxLng: -74.0}
	got, err := s.ListDigestCandidates(box, now, 10)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if want := []string{"s-busy", "s-quiet"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("candidates: got %v, want %v", saleIDsOf(got), want)
	}

	got, err = s.ListDigestCandidates(box, now, 1)
	if err != nil {
		t.Fatalf("list candidates with limit: %v", err)
	}
	if want := []string{"s-busy"}; !reflect.DeepEqual(saleIDsOf(got), want) {
		t.Fatalf("limited candidates: got %v, want %v", saleIDsOf(got), want)
	}
}

func TestMemoryStoreLapsedPromotions(t *testing.T) {
	s := NewMemoryStore()
	now := saleBase

	lapsed := domain.Promotion{ID: "promo-lapsed", SaleID: "s-1", Status: domain.PromotionActive, EndsAt: now.Add(-time.Hour)}
	running := domain.Promotion{ID: "promo-running", SaleID: "s-2", Status: domain.PromotionActive, EndsAt: now.Add(time.Hour)}
	pending := domain.Promotion{ID: "promo-pending", SaleID: "s-3", Status: domain.PromotionPending, EndsAt: now.Add(-time.Hour)}
	for _, p := range []domain.Promotion{lapsed, running, pending} {
		if err := s.SavePromotion(p); err != nil {
			t.Fatalf("save promotion: %v", err)
		}
	}

	got, err := s.ListLapsedPromotions(now)
	if err != nil {
		t.Fatalf("list lapsed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "promo-lapsed" {
		ids := make([]string, 0, len(got))
		for _, p := range got {
			ids = append(ids, p.ID)
		}
		t.Fatalf("lapsed promotions: got %v, want [promo-lapsed]", ids)
	}
}

func TestMemoryStorePaymentEventReplayIsNoOp(t *testing.T) {
	s := NewMemoryStore()

	first := domain.PaymentEvent{ID: "pe-1", ProviderID: "evt_42", Type: "checkout.session.completed", Processed: true}
	if err := s.SavePaymentEvent(first); err != nil {
		t.Fatalf("save payment event: %v", err)
	}
	replay := domain.PaymentEvent{ID: "pe-2", ProviderID: "evt_42", Type: "checkout.session.completed"}
	if err := s.SavePaymentEvent(replay); err != nil {
		t.Fatalf("save replay: %v", err)
	}

	has, err := s.HasPaymentEvent("evt_42")
	if err != nil || !has {
		t.Fatalf("has payment event: has=%v err=%v", has, err)
	}
	if has, _ := s.HasPaymentEvent("evt_missing"); has {
		t.Fatalf("unknown provider id must not exist")
	}
}

func TestMemoryStoreDigestRecipients(t *testing.T) {
	s := NewMemoryStore()

	optedIn := domain.Profile{UserID: "u-1", DisplayName: "A", HomeZip: "07030", HomeLat: 40.7, HomeLng: -74.0, DigestOptIn: true}
	optedOut := domain.Profile{UserID: "u-2", DisplayName: "B", HomeLat: 40.7, HomeLng: -74.0}
	noHome := domain.Profile{UserID: "u-3", DisplayName: "C", DigestOptIn: true}
	for _, p := range []domain.Profile{optedIn, optedOut, noHome} {
		if err := s.SaveProfile(p); err != nil {
			t.Fatalf("save profile: %v", err)
		}
	}

	got, err := s.ListDigestRecipients()
	if err != nil {
		t.Fatalf("list recipients: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u-1" {
		t.Fatalf("recipients: got %d entries, want only u-1", len(got))
	}

	sent := saleBase.Add(time.Hour)
	if err := s.SetLastDigestAt("u-1", sent); err != nil {
		t.Fatalf("set last digest at: %v", err)
	}
	p, ok, err := s.GetProfile("u-1")
	if err != nil || !ok {
		t.Fatalf("get profile: ok=%v err=%v", ok, err)
	}
	if !p.LastDigestAt.Equal(sent) {
		t.Fatalf("last digest at: got %v, want %v", p.LastDigestAt, sent)
	}

	// A later profile update without the timestamp keeps it.
	p.DisplayName = "A renamed"
	p.LastDigestAt = time.Time{}
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	p, _, _ = s.GetProfile("u-1")
	if !p.LastDigestAt.Equal(sent) {
		t.Fatalf("profile update clobbered last digest at: got %v", p.LastDigestAt)
	}
}

func TestMemoryStoreZipCodes(t *testing.T) {
	s := NewMemoryStore()

	rows := []domain.ZipCode{
		{Zip: "07030", City: "Hoboken", State: "NJ", Lat: 40.744, Lng: -74.032},
		{Zip: "10001", City: "New York", State: "NY", Lat: 40.750, Lng: -73.997},
	}
	if err := s.UpsertZipCodes(rows); err != nil {
		t.Fatalf("upsert zips: %v", err)
	}
	count, err := s.ZipCodeCount()
	if err != nil || count != 2 {
		t.Fatalf("zip count: got %d err=%v, want 2", count, err)
	}

	// Re-importing replaces rows instead of duplicating them.
	rows[0].City = "Hoboken City"
	if err := s.UpsertZipCodes(rows[:1]); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	count, _ = s.ZipCodeCount()
	if count != 2 {
		t.Fatalf("zip count after re-upsert: got %d, want 2", count)
	}
	z, ok, err := s.GetZipCode("07030")
	if err != nil || !ok {
		t.Fatalf("get zip: ok=%v err=%v", ok, err)
	}
	if z.City != "Hoboken City" {
		t.Fatalf("zip not replaced: city=%q", z.City)
	}
}

func TestMemoryStoreUsers(t *testing.T) {
	s := NewMemoryStore()

	u := domain.User{ID: "u-1", Email: "a@example.com", Role: domain.RoleUser, Status: domain.StatusActive}
	if err := s.SaveUser(u); err != nil {
		t.Fatalf("save user: %v", err)
	}

	has, err := s.HasUserEmail("a@example.com")
	if err != nil || !has {
		t.Fatalf("has email: has=%v err=%v", has, err)
	}
	if has, _ := s.HasUserEmail("b@example.com"); has {
		t.Fatalf("unknown email must not exist")
	}

	got, ok, err := s.GetUserByEmail("a@example.com")
	if err != nil || !ok || got.ID != "u-1" {
		t.Fatalf("get by email: got=%v ok=%v err=%v", got.ID, ok, err)
	}

	if err := s.SetUserStatus("u-1", domain.StatusDisabled); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _, _ = s.GetUserByID("u-1")
	if got.Status != domain.StatusDisabled {
		t.Fatalf("status: got %q, want disabled", got.Status)
	}
}
