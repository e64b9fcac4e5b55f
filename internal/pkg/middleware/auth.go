package middleware

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	icuser "github.com/ManuelReschke/MarketLink/internal/pkg/usercontext"
)

// LoginRedirect builds the sign-in URL that brings the user back to next.
// Only same-origin paths are accepted as next.
func LoginRedirect(loginPath, next string) string {
	if !isLocalPath(next) {
		return loginPath
	}
	return loginPath + "?next=" + url.QueryEscape(next)
}

func isLocalPath(p string) bool {
	return len(p) > 0 && p[0] == '/' && (len(p) == 1 || (p[1] != '/' && p[1] != '\\'))
}

// RequireAuth ensures a logged-in web session; redirects to the sign-in page
// with the current path as resumable return target.
func RequireAuth(loginPath string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !icuser.IsLoggedIn(c) {
			return c.Redirect(LoginRedirect(loginPath, c.OriginalURL()), fiber.StatusSeeOther)
		}
		return c.Next()
	}
}

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401 instead of redirect.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}
