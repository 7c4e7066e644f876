package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"yardhop/pkg/domain"
)

// ListUsers returns every account for the admin console.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// AdminUserInput patches a user's role or status.
type AdminUserInput struct {
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

// AdminUpdateUser changes role or status. Admins cannot touch their own
// account, and disabling an account revokes its tokens.
func (a *App) AdminUpdateUser(ctx context.Context, admin domain.User, userID string, input AdminUserInput) (domain.User, error) {
	if userID == admin.ID {
		return domain.User{}, errConflict("admins cannot change their own role or status")
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, errNotFound("user not found")
	}
	if input.Role != nil {
		switch domain.UserRole(*input.Role) {
		case domain.RoleUser, domain.RoleAdmin:
			user.Role = domain.UserRole(*input.Role)
		default:
			return domain.User{}, errInvalid("invalid role").WithHint("expected user or admin")
		}
	}
	disabled := false
	if input.Status != nil {
		switch domain.UserStatus(*input.Status) {
		case domain.StatusActive, domain.StatusDisabled:
			disabled = domain.UserStatus(*input.Status) == domain.StatusDisabled && user.Status != domain.StatusDisabled
			user.Status = domain.UserStatus(*input.Status)
		default:
			return domain.User{}, errInvalid("invalid status").WithHint("expected active or disabled")
		}
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	if disabled {
		if err := a.revokeAllUserTokens(user.ID, user.UpdatedAt); err != nil {
			slog.Warn("token revocation for disabled user failed", "user_id", user.ID, "error", err)
		}
	}
	return user, nil
}

// AdminListSales pages through every sale, hidden and archived included.
func (a *App) AdminListSales(ctx context.Context, limit, offset int) ([]domain.Sale, error) {
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	if offset < 0 {
		offset = 0
	}
	sales, err := a.store.ListAllSales(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}

// SetSaleModeration hides a sale from every public surface or restores it.
func (a *App) SetSaleModeration(ctx context.Context, saleID, moderation string) (domain.Sale, error) {
	var m domain.Moderation
	switch domain.Moderation(moderation) {
	case domain.ModerationVisible, domain.ModerationHidden:
		m = domain.Moderation(moderation)
	default:
		return domain.Sale{}, errInvalid("invalid moderation state").WithHint("expected visible or hidden")
	}
	sale, ok, err := a.store.GetSale(saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("fetch sale: %w", err)
	}
	if !ok {
		return domain.Sale{}, ErrSaleNotFound
	}
	if err := a.store.SetSaleModeration(sale.ID, m); err != nil {
		return domain.Sale{}, fmt.Errorf("set moderation: %w", err)
	}
	sale.Moderation = m
	return sale, nil
}

// ListReports returns reports in one status, open by default.
func (a *App) ListReports(ctx context.Context, status string) ([]domain.Report, error) {
	if status == "" {
		status = string(domain.ReportOpen)
	}
	switch domain.ReportStatus(status) {
	case domain.ReportOpen, domain.ReportResolved, domain.ReportDismissed:
	default:
		return nil, errInvalid("invalid report status").WithHint("expected open, resolved, or dismissed")
	}
	reports, err := a.store.ListReportsByStatus(domain.ReportStatus(status))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	return reports, nil
}

// ResolveReportInput settles one report. HideSale optionally moderates the
// reported sale in the same call.
type ResolveReportInput struct {
	Action   string `json:"action" validate:"required,oneof=resolve dismiss"`
	HideSale bool   `json:"hideSale"`
}

// ResolveReport closes an open report.
func (a *App) ResolveReport(ctx context.Context, admin domain.User, reportID string, input ResolveReportInput) (domain.Report, error) {
	if err := a.validate.Struct(input); err != nil {
		return domain.Report{}, errInvalid("invalid report action").WithHint("expected resolve or dismiss")
	}
	report, ok, err := a.store.GetReport(reportID)
	if err != nil {
		return domain.Report{}, fmt.Errorf("fetch report: %w", err)
	}
	if !ok {
		return domain.Report{}, errNotFound("report not found")
	}
	if report.Status != domain.ReportOpen {
		return domain.Report{}, errConflict("report already settled")
	}
	switch input.Action {
	case "resolve":
		report.Status = domain.ReportResolved
	case "dismiss":
		report.Status = domain.ReportDismissed
	}
	report.ResolvedBy = admin.ID
	report.ResolvedAt = time.Now().UTC()
	if input.HideSale {
		if err := a.store.SetSaleModeration(report.SaleID, domain.ModerationHidden); err != nil {
			return domain.Report{}, fmt.Errorf("hide reported sale: %w", err)
		}
	}
	if err := a.store.SaveReport(report); err != nil {
		return domain.Report{}, fmt.Errorf("save report: %w", err)
	}
	return report, nil
}

// Diagnostics reports liveness of each dependency for the admin console.
type Diagnostics struct {
	Postgres      string `json:"postgres"`
	Redis         string `json:"redis"`
	ObjectStorage string `json:"objectStorage"`
	QueueDepth    int64  `json:"queueDepth"`
	ZipCodes      int    `json:"zipCodes"`
}

// Diagnostics pings Postgres, redis, and object storage, and samples the
// digest queue depth and zip gazetteer size. Failures land in the response
// rather than failing it.
func (a *App) Diagnostics(ctx context.Context) Diagnostics {
	d := Diagnostics{Postgres: "ok", Redis: "ok", ObjectStorage: "ok", QueueDepth: -1, ZipCodes: -1}
	if err := a.store.Ping(); err != nil {
		d.Postgres = "error: " + err.Error()
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			d.Redis = "error: " + err.Error()
		}
	} else {
		d.Redis = "not configured"
	}
	if err := a.objects.Ping(ctx); err != nil {
		d.ObjectStorage = "error: " + err.Error()
	}
	if a.queue != nil {
		depth, err := a.queue.Depth(ctx)
		if err != nil {
			slog.Warn("queue depth probe failed", "error", err)
		} else {
			d.QueueDepth = depth
		}
	}
	count, err := a.store.ZipCodeCount()
	if err != nil {
		slog.Warn("zip count probe failed", "error", err)
	} else {
		d.ZipCodes = count
	}
	return d
}

// Analytics is a coarse event tally for the admin console.
type Analytics struct {
	Since     time.Time `json:"since"`
	SaleViews int64     `json:"saleViews"`
	Searches  int64     `json:"searches"`
	Favorites int64     `json:"favorites"`
}

// AnalyticsSummary counts events of each kind since the given time.
func (a *App) AnalyticsSummary(ctx context.Context, since time.Time) (Analytics, error) {
	out := Analytics{Since: since}
	var err error
	if out.SaleViews, err = a.store.CountAnalyticsEvents(domain.EventSaleView, since); err != nil {
		return Analytics{}, fmt.Errorf("count sale views: %w", err)
	}
	if out.Searches, err = a.store.CountAnalyticsEvents(domain.EventSearch, since); err != nil {
		return Analytics{}, fmt.Errorf("count searches: %w", err)
	}
	if out.Favorites, err = a.store.CountAnalyticsEvents(domain.EventFavorite, since); err != nil {
		return Analytics{}, fmt.Errorf("count favorites: %w", err)
	}
	return out, nil
}
