package auth

import (
	"net/http"
	"time"

	"github.com/darunbjork/InsightAPI/internal/domain/models"
)

// Cookie names are fixed for client interoperability.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	cookiePath = "/api/v1/auth"
)

// CookieConfig fixes how the token cookies are written.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func setTokenCookies(w http.ResponseWriter, pair *models.TokenPair, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    pair.AccessToken,
		Path:     cookiePath,
		MaxAge:   int(cfg.AccessTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     cookiePath,
		MaxAge:   int(cfg.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearTokenCookies overwrites both cookies with expired placeholders. The
// pair is always cleared together so a failed refresh never leaves a
// half-valid pair on the client.
func clearTokenCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cookiePath,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0).UTC(),
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
