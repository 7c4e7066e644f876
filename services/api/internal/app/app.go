package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"yardhop/internal/util"
	"yardhop/internal/viewcount"
	"yardhop/pkg/auth"
	"yardhop/pkg/domain"
	"yardhop/pkg/geocode"
	"yardhop/pkg/payments"
	"yardhop/pkg/queue"
	"yardhop/pkg/storage"
	"yardhop/pkg/store"
)

// PaymentProvider creates hosted checkout sessions. *payments.Client
// satisfies it; tests inject fakes.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, params payments.CheckoutParams) (payments.CheckoutSession, error)
}

// DigestQueue enqueues weekly digest jobs. *queue.RedisJobQueue satisfies it.
type DigestQueue interface {
	Enqueue(ctx context.Context, recipientID, weekKey string) (queue.DigestJob, error)
	Depth(ctx context.Context) (int64, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	RedisClient *redis.Client

	SessionTTL  time.Duration
	RefreshTTL  time.Duration
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration

	// Injectable stores; nil values are built from DatabaseURL/RedisClient.
	Store         store.Store
	Sessions      store.SessionStore
	RefreshTokens store.RefreshTokenStore
	Objects       storage.ObjectStore
	Geocoder      *geocode.Resolver
	Payments      PaymentProvider
	Queue         DigestQueue
	Views         *viewcount.Counter

	// ExternalGeocoder backs free-text address resolution in the default
	// resolver. Nil degrades to zip-gazetteer-only lookups.
	ExternalGeocoder geocode.Geocoder

	WebhookSecret      string
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	PromotionPriceCents int64
	PromotionCurrency   string
	PromotionDays       int

	MaxPhotosPerSale int
}

// App is the core application service wiring storage, auth, geocoding,
// payments, and the digest queue behind the HTTP handlers.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	refreshTokens store.RefreshTokenStore
	objects       storage.ObjectStore
	geocoder      *geocode.Resolver
	payments      PaymentProvider
	queue         DigestQueue
	views         *viewcount.Counter
	redis         *redis.Client
	validate      *validator.Validate

	refreshTTL         time.Duration
	webhookSecret      string
	checkoutSuccessURL string
	checkoutCancelURL  string

	promotionPriceCents int64
	promotionCurrency   string
	promotionDuration   time.Duration

	maxPhotosPerSale int
}

// New constructs the application. Stores not injected through Config are
// built from DatabaseURL and RedisClient.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.PromotionPriceCents <= 0 {
		cfg.PromotionPriceCents = 499
	}
	if cfg.PromotionCurrency == "" {
		cfg.PromotionCurrency = "usd"
	}
	if cfg.PromotionDays <= 0 {
		cfg.PromotionDays = 7
	}
	if cfg.MaxPhotosPerSale <= 0 {
		cfg.MaxPhotosPerSale = 10
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis client is required for jwt+redis session strategy")
		}
		revoker := store.NewRedisTokenRevoker(cfg.RedisClient)
		jwtStore, err := store.NewJWTSessionStore([]byte(cfg.JWTSecret), cfg.SessionTTL, revoker, store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	refreshStore := cfg.RefreshTokens
	if refreshStore == nil {
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis client is required for jwt+redis refresh token strategy")
		}
		refreshStore = store.NewRedisRefreshTokenStore(cfg.RedisClient)
	}

	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}

	views := cfg.Views
	if views == nil && cfg.RedisClient != nil {
		views = viewcount.NewCounter(cfg.RedisClient)
	}

	geocoder := cfg.Geocoder
	if geocoder == nil {
		geocoder = geocode.NewResolver(dataStore, cfg.ExternalGeocoder)
	}

	return &App{
		store:               dataStore,
		sessions:            sessionStore,
		refreshTokens:       refreshStore,
		objects:             cfg.Objects,
		geocoder:            geocoder,
		payments:            cfg.Payments,
		queue:               cfg.Queue,
		views:               views,
		redis:               cfg.RedisClient,
		validate:            validator.New(),
		refreshTTL:          cfg.RefreshTTL,
		webhookSecret:       cfg.WebhookSecret,
		checkoutSuccessURL:  cfg.CheckoutSuccessURL,
		checkoutCancelURL:   cfg.CheckoutCancelURL,
		promotionPriceCents: cfg.PromotionPriceCents,
		promotionCurrency:   cfg.PromotionCurrency,
		promotionDuration:   time.Duration(cfg.PromotionDays) * 24 * time.Hour,
		maxPhotosPerSale:    cfg.MaxPhotosPerSale,
	}, nil
}

// SignUp registers a new user. The first account becomes admin.
func (a *App) SignUp(ctx context.Context, email, password string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", "", ErrEmailAndPasswordRequired
	}
	if err := a.validate.Var(email, "email"); err != nil {
		return domain.User{}, "", "", errInvalid("invalid email address")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", "", errInvalid(err.Error())
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", "", ErrEmailAlreadyExists
	}
	role := domain.RoleUser
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", "", fmt.Errorf("save user: %w", err)
	}
	displayName := email
	if at := strings.Index(email, "@"); at > 0 {
		displayName = email[:at]
	}
	if err := a.store.SaveProfile(domain.Profile{
		UserID:      user.ID,
		DisplayName: displayName,
		UpdatedAt:   now,
	}); err != nil {
		return domain.User{}, "", "", fmt.Errorf("save profile: %w", err)
	}
	return a.issueUserTokens(user)
}

// Login validates credentials and issues a token pair.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		slog.Warn("login blocked for disabled user", "user_id", user.ID)
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	return a.issueUserTokens(user)
}

// Refresh rotates the refresh token and issues a new token pair.
func (a *App) Refresh(ctx context.Context, refreshToken string) (domain.User, string, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.User{}, "", "", ErrRefreshTokenRequired
	}
	userID, newRefreshToken, err := a.refreshTokens.RotateToken(refreshToken, a.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return domain.User{}, "", "", ErrInvalidRefreshToken
		}
		return domain.User{}, "", "", fmt.Errorf("resolve refresh token: %w", err)
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !found || user.Status == domain.StatusDisabled {
		_ = a.refreshTokens.DeleteToken(newRefreshToken)
		return domain.User{}, "", "", ErrInvalidRefreshToken
	}
	accessToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		_ = a.refreshTokens.DeleteToken(newRefreshToken)
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	return user, accessToken, newRefreshToken, nil
}

// Logout invalidates the access token and optional refresh token.
func (a *App) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := a.sessions.DeleteSession(accessToken); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	if err := a.refreshTokens.DeleteToken(refreshToken); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// UserFromToken resolves an active user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, false
	}
	return user, true
}

// ProfileInput updates the caller's public profile and digest preferences.
type ProfileInput struct {
	DisplayName *string `json:"displayName" validate:"omitempty,min=1,max=80"`
	HomeZip     *string `json:"homeZip" validate:"omitempty,len=5"`
	DigestOptIn *bool   `json:"digestOptIn"`
}

// Me returns the user together with their profile.
func (a *App) Me(user domain.User) (domain.User, domain.Profile, error) {
	profile, ok, err := a.store.GetProfile(user.ID)
	if err != nil {
		return domain.User{}, domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		profile = domain.Profile{UserID: user.ID}
	}
	return user, profile, nil
}

// UpdateProfile applies partial profile changes. A new home zip is geocoded
// into a home point used for digest candidate selection.
func (a *App) UpdateProfile(ctx context.Context, user domain.User, input ProfileInput) (domain.Profile, error) {
	if err := a.validate.Struct(input); err != nil {
		return domain.Profile{}, errInvalid("invalid profile payload").WithHint(validationHint(err))
	}
	profile, ok, err := a.store.GetProfile(user.ID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		profile = domain.Profile{UserID: user.ID}
	}
	if input.DisplayName != nil {
		profile.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.HomeZip != nil {
		zip := strings.TrimSpace(*input.HomeZip)
		if zip == "" {
			profile.HomeZip = ""
			profile.HomeLat = 0
			profile.HomeLng = 0
		} else {
			if !geocode.ValidZip(zip) {
				return domain.Profile{}, errInvalid("invalid zip code")
			}
			point, found, err := a.geocoder.ResolveZip(ctx, zip)
			if err != nil {
				return domain.Profile{}, fmt.Errorf("geocode zip: %w", err)
			}
			if !found {
				return domain.Profile{}, errInvalid("unknown zip code").WithHint("only US zip codes in the gazetteer are supported")
			}
			profile.HomeZip = zip
			profile.HomeLat = point.Lat
			profile.HomeLng = point.Lng
		}
	}
	if input.DigestOptIn != nil {
		profile.DigestOptIn = *input.DigestOptIn
	}
	profile.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveProfile(profile); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every outstanding session and refresh token for the user.
func (a *App) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return errInvalid("new password required")
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return errInvalid(err.Error())
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok || user.Status == domain.StatusDisabled {
		return errUnauthorized("unauthorized")
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if currentPassword == newPassword {
		return errInvalid("new password must differ from current password")
	}
	passwordHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	revokeSince := time.Now().UTC()
	user.PasswordHash = passwordHash
	user.UpdatedAt = revokeSince
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := a.revokeAllUserTokens(userID, revokeSince); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

func (a *App) issueUserTokens(user domain.User) (domain.User, string, string, error) {
	accessToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := a.refreshTokens.NewToken(user.ID, a.refreshTTL)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return user, accessToken, refreshToken, nil
}

func (a *App) revokeAllUserTokens(userID string, since time.Time) error {
	if userID == "" {
		return nil
	}
	sessionRevoker, ok := a.sessions.(store.UserSessionRevoker)
	if !ok {
		return fmt.Errorf("session store does not support user token revocation")
	}
	if err := sessionRevoker.RevokeUserSessions(userID, since); err != nil {
		return err
	}
	refreshRevoker, ok := a.refreshTokens.(store.UserRefreshTokenRevoker)
	if !ok {
		return fmt.Errorf("refresh token store does not support user token revocation")
	}
	return refreshRevoker.RevokeUserRefreshTokens(userID)
}

// validationHint flattens a validator error into a short field list.
func validationHint(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ""
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	return "check fields: " + strings.Join(fields, ", ")
}
