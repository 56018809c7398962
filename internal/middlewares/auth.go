package middlewares

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sikulab/secauth/internal/auth"
	"github.com/sikulab/secauth/internal/errcode"
)

const userSessionKey = "userSession"

// TokenParser validates a bearer access token into a request identity.
type TokenParser interface {
	ParseAccessToken(tokenString string) (*auth.UserSession, error)
}

// Authenticate rejects requests without a valid bearer access token and
// stores the parsed identity in request locals.
func Authenticate(parser TokenParser) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenString := bearerToken(ctx)
		if tokenString == "" {
			return errcode.ErrTokenMissing
		}
		session, err := parser.ParseAccessToken(tokenString)
		if err != nil {
			return err
		}
		ctx.Locals(userSessionKey, session)
		return ctx.Next()
	}
}

// RequireRole guards a route group behind any of the given roles. Must run
// after Authenticate.
func RequireRole(roles ...string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		session := UserSession(ctx)
		if session == nil {
			return errcode.ErrTokenMissing
		}
		if !session.HasAnyRole(roles...) {
			return errcode.ErrPermissionDenied
		}
		return ctx.Next()
	}
}

// UserSession returns the authenticated identity, nil on anonymous routes.
func UserSession(ctx *fiber.Ctx) *auth.UserSession {
	session, _ := ctx.Locals(userSessionKey).(*auth.UserSession)
	return session
}

func bearerToken(ctx *fiber.Ctx) string {
	header := ctx.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
