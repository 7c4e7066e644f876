package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
)

// MemoryStore implements Store with plain maps. It backs tests and the
// single-process dev mode; anything multi-replica needs the Postgres store.
type MemoryStore struct {
	mu sync.RWMutex

	users     map[string]domain.User
	userOrder []string

	profiles map[string]domain.Profile

	sales     map[string]domain.Sale
	saleOrder []string

	items     map[string]domain.Item
	itemOrder []string

	photos     map[string]domain.Photo
	photoOrder []string

	favorites map[string]map[string]time.Time // userID -> saleID -> favorited at

	drafts map[string]map[string]domain.Draft // ownerID -> key -> draft

	promotions     map[string]domain.Promotion
	promotionOrder []string

	paymentEvents map[string]domain.PaymentEvent // providerID -> event

	reports     map[string]domain.Report
	reportOrder []string

	analytics []domain.AnalyticsEvent

	zips map[string]domain.ZipCode
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		profiles:      make(map[string]domain.Profile),
		sales:         make(map[string]domain.Sale),
		items:         make(map[string]domain.Item),
		photos:        make(map[string]domain.Photo),
		favorites:     make(map[string]map[string]time.Time),
		drafts:        make(map[string]map[string]domain.Draft),
		promotions:    make(map[string]domain.Promotion),
		paymentEvents: make(map[string]domain.PaymentEvent),
		reports:       make(map[string]domain.Report),
		zips:          make(map[string]domain.ZipCode),
	}
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping() error { return nil }

// SaveUser registers or updates a user.
func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		s.userOrder = append(s.userOrder, u.ID)
	}
	s.users[u.ID] = u
	return nil
}

// HasUserEmail checks if email exists.
func (s *MemoryStore) HasUserEmail(email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// GetUserByEmail looks up a user by email.
func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

// ListUsers returns users in insertion order.
func (s *MemoryStore) ListUsers() ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		if u, ok := s.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

// UserCount returns number of users.
func (s *MemoryStore) UserCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// SetUserStatus enables or disables an account.
func (s *MemoryStore) SetUserStatus(id string, status domain.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// SaveProfile creates or updates a profile.
func (s *MemoryStore) SaveProfile(p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.UserID]; ok && p.LastDigestAt.IsZero() {
		p.LastDigestAt = existing.LastDigestAt
	}
	s.profiles[p.UserID] = p
	return nil
}

// GetProfile returns a user's profile.
func (s *MemoryStore) GetProfile(userID string) (domain.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	return p, ok, nil
}

// ListDigestRecipients returns opted-in profiles with a home location.
func (s *MemoryStore) ListDigestRecipients() ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Profile
	for _, p := range s.profiles {
		if p.DigestOptIn && (p.HomeLat != 0 || p.HomeLng != 0) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

// SetLastDigestAt records when a recipient last received a digest.
func (s *MemoryStore) SetLastDigestAt(userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil
	}
	p.LastDigestAt = at.UTC()
	s.profiles[userID] = p
	return nil
}

// SaveSale stores or updates a sale, preserving its accumulated view count.
func (s *MemoryStore) SaveSale(sale domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sales[sale.ID]; ok {
		sale.ViewCount = existing.ViewCount
	} else {
		s.saleOrder = append(s.saleOrder, sale.ID)
	}
	s.sales[sale.ID] = sale
	return nil
}

// GetSale retrieves a sale.
func (s *MemoryStore) GetSale(id string) (domain.Sale, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	return sale, ok, nil
}

// DeleteSale removes a sale and its dependents, keeping promotions and
// payment events as the purchase record.
func (s *MemoryStore) DeleteSale(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sales, id)
	for i, saleID := range s.saleOrder {
		if saleID == id {
			s.saleOrder = append(s.saleOrder[:i], s.saleOrder[i+1:]...)
			break
		}
	}
	for itemID, item := range s.items {
		if item.SaleID == id {
			delete(s.items, itemID)
		}
	}
	for photoID, photo := range s.photos {
		if photo.SaleID == id {
			delete(s.photos, photoID)
		}
	}
	for _, saved := range s.favorites {
		delete(saved, id)
	}
	for reportID, report := range s.reports {
		if report.SaleID == id {
			delete(s.reports, reportID)
			for i, rid := range s.reportOrder {
				if rid == reportID {
					s.reportOrder = append(s.reportOrder[:i], s.reportOrder[i+1:]...)
					break
				}
			}
		}
	}
	return nil
}

// ListSalesByOwner returns one user's sales in insertion order.
func (s *MemoryStore) ListSalesByOwner(ownerID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Sale
	for _, id := range s.saleOrder {
		if sale, ok := s.sales[id]; ok && sale.OwnerID == ownerID {
			res = append(res, sale)
		}
	}
	return res, nil
}

// ListAllSales pages through all sales newest first, for admin use.
func (s *MemoryStore) ListAllSales(limit, offset int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	all := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		all = append(all, sale)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []domain.Sale{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SearchSales returns published, visible sales matching the filter,
// soonest first.
func (s *MemoryStore) SearchSales(filter SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	category := strings.TrimSpace(filter.Category)

	var res []domain.Sale
	for _, sale := range s.sales {
		if !sale.Listed() {
			continue
		}
		if filter.BBox != nil && !filter.BBox.Contains(geo.Point{Lat: sale.Lat, Lng: sale.Lng}) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(sale.Title), query) &&
			!strings.Contains(strings.ToLower(sale.Description), query) {
			continue
		}
		if category != "" && !s.saleHasCategoryLocked(sale.ID, category) {
			continue
		}
		if !filter.StartsAfter.IsZero() && sale.StartsAt.Before(filter.StartsAfter) {
			continue
		}
		if !filter.EndsBefore.IsZero() && sale.EndsAt.After(filter.EndsBefore) {
			continue
		}
		if !filter.PromotedAt.IsZero() && !sale.Promoted(filter.PromotedAt) {
			continue
		}
		res = append(res, sale)
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].StartsAt.Equal(res[j].StartsAt) {
			return res[i].StartsAt.Before(res[j].StartsAt)
		}
		return res[i].ID < res[j].ID
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *MemoryStore) saleHasCategoryLocked(saleID, category string) bool {
	for _, item := range s.items {
		if item.SaleID == saleID && item.Category == category {
			return true
		}
	}
	return false
}

// SetSaleStatus moves a sale through its lifecycle.
func (s *MemoryStore) SetSaleStatus(id string, status domain.SaleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil
	}
	sale.Status = status
	sale.UpdatedAt = time.Now().UTC()
	s.sales[id] = sale
	return nil
}

// SetSaleModeration hides or restores a sale.
func (s *MemoryStore) SetSaleModeration(id string, m domain.Moderation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil
	}
	sale.Moderation = m
	sale.UpdatedAt = time.Now().UTC()
	s.sales[id] = sale
	return nil
}

// SetPromotedUntil stamps the active boost horizon on a sale.
func (s *MemoryStore) SetPromotedUntil(id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil
	}
	sale.PromotedUntil = until.UTC()
	sale.UpdatedAt = time.Now().UTC()
	s.sales[id] = sale
	return nil
}

// AddSaleViews folds accumulated view counters into sales.
func (s *MemoryStore) AddSaleViews(counts map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range counts {
		if n <= 0 {
			continue
		}
		if sale, ok := s.sales[id]; ok {
			sale.ViewCount += n
			s.sales[id] = sale
		}
	}
	return nil
}

// ListDigestCandidates returns listed sales inside the box that have not
// ended, busiest first.
func (s *MemoryStore) ListDigestCandidates(box geo.BBox, now time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	var res []domain.Sale
	for _, sale := range s.sales {
		if !sale.Listed() || sale.EndsAt.Before(now) {
			continue
		}
		if !box.Contains(geo.Point{Lat: sale.Lat, Lng: sale.Lng}) {
			continue
		}
		res = append(res, sale)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ViewCount != res[j].ViewCount {
			return res[i].ViewCount > res[j].ViewCount
		}
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// SaleCount returns the number of sales.
func (s *MemoryStore) SaleCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sales), nil
}

// SaveItem stores or updates an item.
func (s *MemoryStore) SaveItem(item domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		s.itemOrder = append(s.itemOrder, item.ID)
	}
	s.items[item.ID] = item
	return nil
}

// GetItem retrieves an item.
func (s *MemoryStore) GetItem(id string) (domain.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok, nil
}

// ListItemsBySale returns a sale's items in display order.
func (s *MemoryStore) ListItemsBySale(saleID string) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Item
	for _, id := range s.itemOrder {
		if item, ok := s.items[id]; ok && item.SaleID == saleID {
			res = append(res, item)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Position < res[j].Position })
	return res, nil
}

// DeleteItem removes an item.
func (s *MemoryStore) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	for i, itemID := range s.itemOrder {
		if itemID == id {
			s.itemOrder = append(s.itemOrder[:i], s.itemOrder[i+1:]...)
			break
		}
	}
	return nil
}

// SavePhoto records photo metadata.
func (s *MemoryStore) SavePhoto(photo domain.Photo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.photos[photo.ID]; !ok {
		s.photoOrder = append(s.photoOrder, photo.ID)
	}
	s.photos[photo.ID] = photo
	return nil
}

// GetPhoto retrieves photo metadata.
func (s *MemoryStore) GetPhoto(id string) (domain.Photo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	photo, ok := s.photos[id]
	return photo, ok, nil
}

// ListPhotosBySale returns a sale's photos in display order.
func (s *MemoryStore) ListPhotosBySale(saleID string) ([]domain.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Photo
	for _, id := range s.photoOrder {
		if photo, ok := s.photos[id]; ok && photo.SaleID == saleID {
			res = append(res, photo)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Position < res[j].Position })
	return res, nil
}

// CountPhotosBySale returns the number of photos attached to a sale.
func (s *MemoryStore) CountPhotosBySale(saleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, photo := range s.photos {
		if photo.SaleID == saleID {
			count++
		}
	}
	return count, nil
}

// DeletePhoto removes photo metadata.
func (s *MemoryStore) DeletePhoto(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.photos, id)
	for i, photoID := range s.photoOrder {
		if photoID == id {
			s.photoOrder = append(s.photoOrder[:i], s.photoOrder[i+1:]...)
			break
		}
	}
	return nil
}

// SaveFavorite records a favorite. Saving twice keeps the first timestamp.
func (s *MemoryStore) SaveFavorite(f domain.Favorite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := s.favorites[f.UserID]
	if saved == nil {
		saved = make(map[string]time.Time)
		s.favorites[f.UserID] = saved
	}
	if _, ok := saved[f.SaleID]; !ok {
		at := f.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		saved[f.SaleID] = at
	}
	return nil
}

// DeleteFavorite removes a favorite.
func (s *MemoryStore) DeleteFavorite(userID, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if saved, ok := s.favorites[userID]; ok {
		delete(saved, saleID)
	}
	return nil
}

// HasFavorite checks whether the user favorited the sale.
func (s *MemoryStore) HasFavorite(userID, saleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	saved, ok := s.favorites[userID]
	if !ok {
		return false, nil
	}
	_, ok = saved[saleID]
	return ok, nil
}

// ListFavoriteSales returns the sales a user favorited, most recently
// favorited first, hiding moderated sales.
func (s *MemoryStore) ListFavoriteSales(userID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type fav struct {
		sale domain.Sale
		at   time.Time
	}
	var favs []fav
	for saleID, at := range s.favorites[userID] {
		sale, ok := s.sales[saleID]
		if !ok || sale.Moderation != domain.ModerationVisible {
			continue
		}
		favs = append(favs, fav{sale: sale, at: at})
	}
	sort.Slice(favs, func(i, j int) bool {
		if !favs[i].at.Equal(favs[j].at) {
			return favs[i].at.After(favs[j].at)
		}
		return favs[i].sale.ID < favs[j].sale.ID
	})
	res := make([]domain.Sale, 0, len(favs))
	for _, f := range favs {
		res = append(res, f.sale)
	}
	return res, nil
}

// SaveDraft creates or replaces a draft under the owner's key.
func (s *MemoryStore) SaveDraft(d domain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.drafts[d.OwnerID]
	if byKey == nil {
		byKey = make(map[string]domain.Draft)
		s.drafts[d.OwnerID] = byKey
	}
	byKey[d.Key] = d
	return nil
}

// GetDraft retrieves one draft by owner and key.
func (s *MemoryStore) GetDraft(ownerID, key string) (domain.Draft, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[ownerID][key]
	return d, ok, nil
}

// ListDraftsByOwner returns all drafts of one user, newest first.
func (s *MemoryStore) ListDraftsByOwner(ownerID string) ([]domain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Draft
	for _, d := range s.drafts[ownerID] {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].Key < res[j].Key
	})
	return res, nil
}

// DeleteDraft removes one draft.
func (s *MemoryStore) DeleteDraft(ownerID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byKey, ok := s.drafts[ownerID]; ok {
		delete(byKey, key)
	}
	return nil
}

// SavePromotion stores or updates a promotion.
func (s *MemoryStore) SavePromotion(p domain.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.promotions[p.ID]; !ok {
		s.promotionOrder = append(s.promotionOrder, p.ID)
	}
	s.promotions[p.ID] = p
	return nil
}

// GetPromotion retrieves a promotion.
func (s *MemoryStore) GetPromotion(id string) (domain.Promotion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.promotions[id]
	return p, ok, nil
}

// GetPromotionBySession finds the promotion created for a checkout session.
func (s *MemoryStore) GetPromotionBySession(sessionID string) (domain.Promotion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.promotions {
		if p.SessionID == sessionID {
			return p, true, nil
		}
	}
	return domain.Promotion{}, false, nil
}

// ListPromotionsBySale returns a sale's promotions, newest first.
func (s *MemoryStore) ListPromotionsBySale(saleID string) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Promotion
	for i := len(s.promotionOrder) - 1; i >= 0; i-- {
		if p, ok := s.promotions[s.promotionOrder[i]]; ok && p.SaleID == saleID {
			res = append(res, p)
		}
	}
	return res, nil
}

// ListLapsedPromotions returns active promotions whose window has passed.
func (s *MemoryStore) ListLapsedPromotions(now time.Time) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Promotion
	for _, id := range s.promotionOrder {
		p, ok := s.promotions[id]
		if ok && p.Status == domain.PromotionActive && !p.EndsAt.After(now) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].EndsAt.Before(res[j].EndsAt) })
	return res, nil
}

// SavePaymentEvent records a provider webhook delivery, dropping replays.
func (s *MemoryStore) SavePaymentEvent(e domain.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paymentEvents[e.ProviderID]; ok {
		return nil
	}
	s.paymentEvents[e.ProviderID] = e
	return nil
}

// HasPaymentEvent checks whether a provider event was already recorded.
func (s *MemoryStore) HasPaymentEvent(providerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paymentEvents[providerID]
	return ok, nil
}

// SaveReport stores or updates a report.
func (s *MemoryStore) SaveReport(r domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; !ok {
		s.reportOrder = append(s.reportOrder, r.ID)
	}
	s.reports[r.ID] = r
	return nil
}

// GetReport retrieves a report.
func (s *MemoryStore) GetReport(id string) (domain.Report, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	return r, ok, nil
}

// ListReportsByStatus returns reports in a given state, oldest first.
// An empty status returns all.
func (s *MemoryStore) ListReportsByStatus(status domain.ReportStatus) ([]domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Report
	for _, id := range s.reportOrder {
		r, ok := s.reports[id]
		if !ok {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		res = append(res, r)
	}
	return res, nil
}

// SaveAnalyticsEvent appends one analytics event.
func (s *MemoryStore) SaveAnalyticsEvent(e domain.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics = append(s.analytics, e)
	return nil
}

// CountAnalyticsEvents counts events of one kind since a cutoff.
func (s *MemoryStore) CountAnalyticsEvents(kind string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, e := range s.analytics {
		if e.Kind != kind {
			continue
		}
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// UpsertZipCodes loads gazetteer rows, replacing existing zips.
func (s *MemoryStore) UpsertZipCodes(rows []domain.ZipCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.zips[row.Zip] = row
	}
	return nil
}

// GetZipCode looks up one zip.
func (s *MemoryStore) GetZipCode(zip string) (domain.ZipCode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zips[zip]
	return z, ok, nil
}

// ZipCodeCount returns the number of gazetteer rows.
func (s *MemoryStore) ZipCodeCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zips), nil
}
