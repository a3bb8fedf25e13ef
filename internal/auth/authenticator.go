package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"virtgate/internal/config"
	apperrors "virtgate/internal/errors"
	"virtgate/internal/rest"
)

type contextKey struct{}

// LoginRequest is the body of POST /login. A field is required to be
// present; its value is only checked against the user table.
type LoginRequest struct {
	UserID   *string `json:"userid" validate:"required"`
	Password *string `json:"password" validate:"required"`
}

func newLoginRequest(params map[string]any) LoginRequest {
	field := func(key string) *string {
		v, ok := params[key]
		if !ok {
			return nil
		}
		s, _ := v.(string)
		return &s
	}
	return LoginRequest{UserID: field("userid"), Password: field("password")}
}

// Authenticator checks credentials and manages login sessions
type Authenticator struct {
	enabled    bool
	users      map[string]string
	sessions   *SessionStore
	cookieName string
	maxBody    int64
	validate   *validator.Validate
	errors     *apperrors.ErrorHandler
	logger     *slog.Logger
}

// NewAuthenticator creates an authenticator for cfg. Failures are rendered
// through errs.
func NewAuthenticator(cfg config.AuthConfig, errs *apperrors.ErrorHandler, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	users := make(map[string]string, len(cfg.Users))
	for id, hash := range cfg.Users {
		users[id] = hash
	}

	return &Authenticator{
		enabled:    cfg.Enabled,
		users:      users,
		sessions:   NewSessionStore(cfg.SessionTTL),
		cookieName: cfg.CookieName,
		maxBody:    1 << 16,
		validate:   v,
		errors:     errs,
		logger:     logger.With(slog.String("component", "auth")),
	}
}

// Enabled reports whether RequireSession enforces sessions
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Stats reports session counters for health reporting
func (a *Authenticator) Stats() map[string]any {
	return map[string]any{
		"enabled":         a.enabled,
		"users":           len(a.users),
		"active_sessions": a.sessions.Len(),
	}
}

// Authenticate verifies the credentials of userID
func (a *Authenticator) Authenticate(ctx context.Context, userID, password string) error {
	hash, ok := a.users[userID]
	if !ok {
		a.logger.WarnContext(ctx, "login rejected", slog.String("user", userID), slog.String("reason", "unknown user"))
		return apperrors.ErrUnauthorized
	}

	match, err := VerifyPassword(hash, password)
	if err != nil {
		a.logger.ErrorContext(ctx, "stored password hash is unusable",
			slog.String("user", userID),
			slog.String("error", err.Error()))
		return apperrors.ErrUnauthorized
	}
	if !match {
		a.logger.WarnContext(ctx, "login rejected", slog.String("user", userID), slog.String("reason", "bad password"))
		return apperrors.ErrUnauthorized
	}
	return nil
}

// Login handles POST /login. It answers {} and sets the session cookie.
func (a *Authenticator) Login(w http.ResponseWriter, r *http.Request) {
	params, err := rest.ParseRequest(r, a.maxBody)
	if err != nil {
		a.errors.HandleError(w, r, err)
		return
	}

	req := newLoginRequest(params)
	if err := a.validate.Struct(req); err != nil {
		a.errors.HandleError(w, r, missingParameter(err))
		return
	}

	userID := *req.UserID
	if err := a.Authenticate(r.Context(), userID, *req.Password); err != nil {
		a.errors.HandleError(w, r, err)
		return
	}

	sess := a.sessions.Create(userID)
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.ExpiresAt,
	})
	a.logger.InfoContext(r.Context(), "user logged in", slog.String("user", userID))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{})
}

// Logout handles POST /logout. It always answers {}.
func (a *Authenticator) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(a.cookieName); err == nil {
		a.sessions.Delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{})
}

// RequireSession rejects requests without a live session when
// authentication is enabled
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		c, err := r.Cookie(a.cookieName)
		if err != nil {
			a.errors.HandleError(w, r, apperrors.ErrUnauthorized)
			return
		}
		sess, ok := a.sessions.Get(c.Value)
		if !ok {
			a.errors.HandleError(w, r, apperrors.ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, sess)))
	})
}

// SessionFromContext returns the session RequireSession attached to ctx
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*Session)
	return sess, ok
}

func missingParameter(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.NewMissingParameter(verrs[0].Field())
	}
	return apperrors.NewInvalidParameter(err.Error())
}
