package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"yardhop/internal/ratelimit"
	"yardhop/internal/servicetoken"
	"yardhop/internal/util"
	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
	"yardhop/services/api/internal/app"
)

const (
	internalTokenHeader    = "X-Internal-Token"
	paymentSignatureHeader = "X-Payment-Signature"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	RedisClient                *redis.Client
	InternalTokens             *servicetoken.Verifier
	TrustedProxies             *util.TrustedProxies
	AllowedOrigins             []string
	SignupRateLimitPerMinute   int
	LoginRateLimitPerMinute    int
	RefreshRateLimitPerMinute  int
	PasswordRateLimitPerMinute int
	MaxUploadBytes             int64
	AllowedExtensions          []string
}

// Server exposes the public HTTP API.
type Server struct {
	app               *app.App
	internalTokens    *servicetoken.Verifier
	trustedProxies    *util.TrustedProxies
	allowedOrigins    []string
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	signupLimiter     *ratelimit.FixedWindowLimiter
	loginLimiter      *ratelimit.FixedWindowLimiter
	refreshLimiter    *ratelimit.FixedWindowLimiter
	passwordLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	refreshLimit := cfg.RefreshRateLimitPerMinute
	if refreshLimit <= 0 {
		refreshLimit = 20
	}
	passwordLimit := cfg.PasswordRateLimitPerMinute
	if passwordLimit <= 0 {
		passwordLimit = 10
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "yardhop:api:ratelimit:" + name
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.RedisClient, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	refreshLimiter, err := newLimiter("refresh", refreshLimit)
	if err != nil {
		return nil, err
	}
	passwordLimiter, err := newLimiter("password", passwordLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:               cfg.App,
		internalTokens:    cfg.InternalTokens,
		trustedProxies:    cfg.TrustedProxies,
		allowedOrigins:    cfg.AllowedOrigins,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		signupLimiter:     signupLimiter,
		loginLimiter:      loginLimiter,
		refreshLimiter:    refreshLimiter,
		passwordLimiter:   passwordLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog(s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithCORS(s.allowedOrigins, handler)
	return util.WithSecurityHeaders(handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth and account
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/password", s.authenticated(s.handleChangePassword))
	s.mux.Handle("/api/me/favorites", s.authenticated(s.handleListFavorites))
	s.mux.Handle("/api/me/sales", s.authenticated(s.handleMySales))

	// sales; the viewport pattern is more specific than the id subtree
	s.mux.HandleFunc("/api/sales", s.handleSales)
	s.mux.HandleFunc("/api/sales/viewport", s.handleViewport)
	s.mux.HandleFunc("/api/sales/", s.handleSaleSubtree)

	// drafts
	s.mux.Handle("/api/drafts", s.authenticated(s.handleDrafts))
	s.mux.Handle("/api/drafts/", s.authenticated(s.handleDraftByKey))

	// payment provider callbacks
	s.mux.HandleFunc("/api/webhooks/payments", s.handlePaymentWebhook)

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
	s.mux.Handle("/api/admin/sales", s.adminOnly(s.handleAdminSales))
	s.mux.Handle("/api/admin/sales/", s.adminOnly(s.handleAdminSaleByID))
	s.mux.Handle("/api/admin/reports", s.adminOnly(s.handleAdminReports))
	s.mux.Handle("/api/admin/reports/", s.adminOnly(s.handleAdminReportByID))
	s.mux.Handle("/api/admin/diagnostics", s.adminOnly(s.handleAdminDiagnostics))
	s.mux.Handle("/api/admin/analytics", s.adminOnly(s.handleAdminAnalytics))

	// scheduler-triggered jobs
	s.mux.Handle("/api/internal/jobs/weekly-digest", s.internalOnly(s.handleWeeklyDigestJob))
	s.mux.Handle("/api/internal/jobs/expire-promotions", s.internalOnly(s.handleExpirePromotionsJob))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "api.admin.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "api.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "api.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) internalOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalTokens == nil {
			s.audit(r, "api.internal.authorize", "fail", "reason", "not_configured")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		token := strings.TrimSpace(r.Header.Get(internalTokenHeader))
		if token == "" {
			s.audit(r, "api.internal.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.internalTokens.Verify(token)
		if err != nil {
			s.audit(r, "api.internal.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.audit(r, "api.internal.authorize", "success", "issuer", claims.Issuer)
		next(w, r)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	user, ok := s.app.UserFromToken(token)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "invalid_or_revoked")
		return domain.User{}, false
	}
	return user, true
}

// requireUser is authorize for handlers that dispatch on path segments and
// cannot sit behind the authenticated wrapper.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	user, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return domain.User{}, false
	}
	return user, true
}

// optionalUser resolves the caller when a valid token is present. Public
// reads stay public; a bad token browses anonymously instead of failing.
func (s *Server) optionalUser(r *http.Request) *domain.User {
	token, ok := bearerToken(r)
	if !ok {
		return nil
	}
	user, ok := s.app.UserFromToken(token)
	if !ok {
		return nil
	}
	return &user
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "api.signup", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "api.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, accessToken, refreshToken, err := s.app.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.signup", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "api.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, accessToken, refreshToken, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "too many refresh attempts") {
		s.audit(r, "api.refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "api.refresh", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		s.audit(r, "api.refresh", "fail", "reason", "missing_refresh_token")
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	user, accessToken, refreshToken, err := s.app.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.audit(r, "api.refresh", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.refresh", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "too many logout attempts") {
		s.audit(r, "api.logout", "rate_limited")
		return
	}
	var req logoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.audit(r, "api.logout", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(r.Context(), token, req.RefreshToken); err != nil {
		s.audit(r, "api.logout", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		me, profile, err := s.app.Me(user)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meResponse{User: me, Profile: profile})
	case http.MethodPatch:
		var input app.ProfileInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.UpdateProfile(r.Context(), user, input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meResponse{User: user, Profile: profile})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password change attempts") {
		s.audit(r, "api.password.change", "rate_limited")
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}
	if err := s.app.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.audit(r, "api.password.change", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.password.change", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// /api/sales
func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		user, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		var input app.SaleInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		sale, err := s.app.CreateSale(r.Context(), user, input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	case http.MethodGet:
		q, err := parseListQuery(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sales, err := s.app.ListSales(r.Context(), q)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": sales,
			"count": len(sales),
		})
	default:
		methodNotAllowed(w)
	}
}

// /api/sales/viewport
func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	params := r.URL.Query()
	box, err := parseBBox(params.Get("bbox"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"hint":  "expected bbox=minLng,minLat,maxLng,maxLat",
		})
		return
	}
	q, err := parseListQuery(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sales, err := s.app.SearchViewport(r.Context(), box, q)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": sales,
		"count": len(sales),
	})
}

// /api/sales/{id} and everything nested under it
func (s *Server) handleSaleSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sales/")
	parts := strings.SplitN(path, "/", 3)
	saleID := parts[0]
	if saleID == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		s.handleSaleByID(w, r, saleID)
		return
	}
	action := parts[1]
	childID := ""
	if len(parts) == 3 {
		childID = parts[2]
	}
	if len(parts) == 3 && (childID == "" || strings.Contains(childID, "/")) {
		http.NotFound(w, r)
		return
	}
	if childID != "" && action != "items" && action != "photos" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "publish":
		s.handlePublishSale(w, r, saleID)
	case "archive":
		s.handleArchiveSale(w, r, saleID)
	case "view":
		s.handleSaleView(w, r, saleID)
	case "items":
		s.handleSaleItems(w, r, saleID, childID)
	case "photos":
		s.handleSalePhotos(w, r, saleID, childID)
	case "favorite":
		s.handleSaleFavorite(w, r, saleID)
	case "promote":
		s.handlePromoteSale(w, r, saleID)
	case "promotion":
		s.handleSalePromotion(w, r, saleID)
	case "report":
		s.handleReportSale(w, r, saleID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSaleByID(w http.ResponseWriter, r *http.Request, saleID string) {
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetSaleDetail(r.Context(), s.optionalUser(r), saleID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodPatch:
		user, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		var input app.UpdateSaleInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		sale, err := s.app.UpdateSale(r.Context(), user, saleID, input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	case http.MethodDelete:
		user, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		if err := s.app.DeleteSale(r.Context(), user, saleID); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePublishSale(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sale, err := s.app.PublishSale(r.Context(), user, saleID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleArchiveSale(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sale, err := s.app.ArchiveSale(r.Context(), user, saleID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleSaleView(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.RecordSaleView(r.Context(), s.optionalUser(r), saleID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaleItems(w http.ResponseWriter, r *http.Request, saleID, itemID string) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if itemID == "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var input app.ItemInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		item, err := s.app.AddItem(r.Context(), user, saleID, input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var input app.UpdateItemInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		item, err := s.app.UpdateItem(r.Context(), user, saleID, itemID, input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := s.app.DeleteItem(r.Context(), user, saleID, itemID); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSalePhotos(w http.ResponseWriter, r *http.Request, saleID, photoID string) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if photoID == "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleUploadPhoto(w, r, user, saleID)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeletePhoto(r.Context(), user, saleID, photoID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request, user domain.User, saleID string) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if !s.isExtensionAllowed(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	photo, err := s.app.UploadPhoto(r.Context(), user, saleID, header.Filename, file, header.Size)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

func (s *Server) handleSaleFavorite(w http.ResponseWriter, r *http.Request, saleID string) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		if err := s.app.FavoriteSale(r.Context(), user, saleID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.app.UnfavoriteSale(r.Context(), user, saleID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePromoteSale(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	promo, checkoutURL, err := s.app.PromoteSale(r.Context(), user, saleID)
	if err != nil {
		s.audit(r, "api.sale.promote", "fail", "user_id", user.ID, "sale_id", saleID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.sale.promote", "success", "user_id", user.ID, "sale_id", saleID, "promotion_id", promo.ID)
	writeJSON(w, http.StatusCreated, promoteResponse{
		Promotion:   promo,
		CheckoutURL: checkoutURL,
	})
}

func (s *Server) handleSalePromotion(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	promo, err := s.app.GetSalePromotion(r.Context(), user, saleID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleReportSale(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var input app.ReportInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := s.app.ReportSale(r.Context(), user, saleID, input)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sales, err := s.app.ListFavorites(r.Context(), user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": sales,
		"count": len(sales),
	})
}

func (s *Server) handleMySales(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sales, err := s.app.ListMySales(r.Context(), user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": sales,
		"count": len(sales),
	})
}

// /api/drafts
func (s *Server) handleDrafts(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	drafts, err := s.app.ListDrafts(r.Context(), user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": drafts,
		"count": len(drafts),
	})
}

// /api/drafts/{key} or /api/drafts/{key}/publish
func (s *Server) handleDraftByKey(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/drafts/")
	parts := strings.SplitN(path, "/", 2)
	key := parts[0]
	if key == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "publish" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		sale, err := s.app.PublishDraft(r.Context(), user, key)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
		return
	}
	switch r.Method {
	case http.MethodPut:
		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		draft, err := s.app.SaveDraftPayload(r.Context(), user, key, payload)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, draft)
	case http.MethodGet:
		draft, err := s.app.GetDraft(r.Context(), user, key)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, draft)
	case http.MethodDelete:
		if err := s.app.DeleteDraft(r.Context(), user, key); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /api/webhooks/payments
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.app.ProcessPaymentWebhook(r.Context(), payload, r.Header.Get(paymentSignatureHeader)); err != nil {
		s.audit(r, "api.webhook.payments", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.webhook.payments", "success")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, user domain.User) {
	_ = user
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"count": len(users),
	})
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var input app.AdminUserInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if input.Role == nil && input.Status == nil {
		writeError(w, http.StatusBadRequest, "role or status is required")
		return
	}
	updated, err := s.app.AdminUpdateUser(r.Context(), admin, id, input)
	if err != nil {
		s.audit(r, "api.admin.user.update", "fail", "user_id", admin.ID, "target_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.admin.user.update", "success", "user_id", admin.ID, "target_id", id)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAdminSales(w http.ResponseWriter, r *http.Request, user domain.User) {
	_ = user
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	params := r.URL.Query()
	limit, err := parseIntParam(params, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseIntParam(params, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sales, err := s.app.AdminListSales(r.Context(), limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": sales,
		"count": len(sales),
	})
}

func (s *Server) handleAdminSaleByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/sales/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req moderationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sale, err := s.app.SetSaleModeration(r.Context(), id, req.Moderation)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.admin.sale.moderate", "success", "user_id", admin.ID, "sale_id", id, "moderation", req.Moderation)
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleAdminReports(w http.ResponseWriter, r *http.Request, user domain.User) {
	_ = user
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reports, err := s.app.ListReports(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": reports,
		"count": len(reports),
	})
}

func (s *Server) handleAdminReportByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/reports/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var input app.ResolveReportInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := s.app.ResolveReport(r.Context(), admin, id, input)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.admin.report.resolve", "success", "user_id", admin.ID, "report_id", id, "action", input.Action)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminDiagnostics(w http.ResponseWriter, r *http.Request, user domain.User) {
	_ = user
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Diagnostics(r.Context()))
}

func (s *Server) handleAdminAnalytics(w http.ResponseWriter, r *http.Request, user domain.User) {
	_ = user
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, expected RFC3339")
			return
		}
		since = parsed
	}
	summary, err := s.app.AnalyticsSummary(r.Context(), since)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// internal job handlers
func (s *Server) handleWeeklyDigestJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.EnqueueWeeklyDigests(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExpirePromotionsJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.ExpirePromotions(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         domain.User `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type meResponse struct {
	User    domain.User    `json:"user"`
	Profile domain.Profile `json:"profile"`
}

type moderationRequest struct {
	Moderation string `json:"moderation"`
}

type promoteResponse struct {
	Promotion   domain.Promotion `json:"promotion"`
	CheckoutURL string           `json:"checkoutUrl"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func parseListQuery(params url.Values) (app.ListQuery, error) {
	q := app.ListQuery{
		NearZip:  strings.TrimSpace(params.Get("near")),
		Query:    strings.TrimSpace(params.Get("q")),
		Category: strings.TrimSpace(params.Get("category")),
	}
	if raw := strings.TrimSpace(params.Get("radius_km")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return app.ListQuery{}, errors.New("invalid radius_km")
		}
		q.RadiusKm = v
	}
	if raw := strings.TrimSpace(params.Get("starts_after")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return app.ListQuery{}, errors.New("invalid starts_after, expected RFC3339")
		}
		q.StartsAfter = t
	}
	if raw := strings.TrimSpace(params.Get("ends_before")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return app.ListQuery{}, errors.New("invalid ends_before, expected RFC3339")
		}
		q.EndsBefore = t
	}
	if raw := strings.TrimSpace(params.Get("promoted")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return app.ListQuery{}, errors.New("invalid promoted, expected true or false")
		}
		q.PromotedOnly = v
	}
	if raw := strings.TrimSpace(params.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return app.ListQuery{}, errors.New("invalid limit")
		}
		q.Limit = v
	}
	return q, nil
}

// parseBBox reads "minLng,minLat,maxLng,maxLat".
func parseBBox(raw string) (geo.BBox, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return geo.BBox{}, errors.New("bbox is required")
	}
	fields := strings.Split(raw, ",")
	if len(fields) != 4 {
		return geo.BBox{}, errors.New("invalid bbox")
	}
	coords := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return geo.BBox{}, errors.New("invalid bbox")
		}
		coords[i] = v
	}
	return geo.BBox{MinLng: coords[0], MinLat: coords[1], MaxLng: coords[2], MaxLat: coords[3]}, nil
}

func parseIntParam(params url.Values, name string) (int, error) {
	raw := strings.TrimSpace(params.Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError renders app failures through the error envelope. Anything
// that is not an app.Error is a bug or an outage and stays opaque to the
// caller.
func writeAppError(w http.ResponseWriter, err error) {
	var apiErr *app.Error
	if errors.As(err, &apiErr) {
		body := map[string]string{"error": apiErr.Message}
		if apiErr.Code != "" {
			body["code"] = apiErr.Code
		}
		if apiErr.Hint != "" {
			body["hint"] = apiErr.Hint
		}
		writeJSON(w, apiErr.Status, body)
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 10 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	_, ok := s.allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// audit logs a security-relevant event through the request-scoped logger,
// which already carries the request id.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.RetryAfter().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}
