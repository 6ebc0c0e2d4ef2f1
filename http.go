package gatekeeper

import (
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-gatekeeper/middleware/jwtware"
)

const (
	defaultContextKey  = "user"
	defaultTokenLookup = "header:" + fiber.HeaderAuthorization
	defaultAuthScheme  = "Bearer"
)

// ProtectedRoute requires a valid access token. Claims are available
// downstream through ClaimsFromContext.
func ProtectedRoute(cfg Config, verifier TokenVerifier, clock func() time.Time, listeners ...ValidationListener) fiber.Handler {
	mw := routeConfig(cfg, AccessTokenValidator(verifier, clock))
	RegisterValidationListeners(&mw, listeners...)
	return jwtware.New(mw)
}

// AdminRoute lets a request through only when the PrivilegeGate accepts
// its token. Every failure produces the same 401 response.
func AdminRoute(cfg Config, gate *PrivilegeGate, listeners ...ValidationListener) fiber.Handler {
	mw := routeConfig(cfg, PrivilegedValidator(gate))
	RegisterValidationListeners(&mw, listeners...)
	return jwtware.New(mw)
}

func routeConfig(cfg Config, validator jwtware.TokenValidator) jwtware.Config {
	mw := jwtware.Config{
		TokenValidator:  validator,
		ContextKey:      defaultContextKey,
		TokenLookup:     defaultTokenLookup,
		AuthScheme:      defaultAuthScheme,
		ContextEnricher: ContextEnricherAdapter,
		ErrorHandler:    UnauthorizedHandler,
	}
	if cfg != nil {
		if lookup := cfg.GetTokenLookup(); lookup != "" {
			mw.TokenLookup = lookup
		}
		if scheme := cfg.GetAuthScheme(); scheme != "" {
			mw.AuthScheme = scheme
		}
	}
	return mw
}

// UnauthorizedHandler writes the generic denial body
func UnauthorizedHandler(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": ErrAccessDenied.Message,
	})
}

// NewErrorHandler maps errors returned by handlers to JSON responses.
// Token and privilege failures collapse into the generic 401 body and
// internal failures never expose their cause.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = resolveLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if goerrors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": fiberErr.Message,
			})
		}

		var fieldErrs validation.Errors
		if goerrors.As(err, &fieldErrs) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "validation failed",
				"fields": fieldErrs,
			})
		}

		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
				WithCode(goerrors.CodeInternal)
		}

		switch {
		case richErr.TextCode == TextCodeTokenRejected, richErr.Category == goerrors.CategoryAuthz:
			logger.Info("request denied",
				"path", c.Path(),
				"text_code", richErr.TextCode,
			)
			return UnauthorizedHandler(c, err)
		case richErr.Category == goerrors.CategoryInternal:
			logger.Error("request failed",
				"path", c.Path(),
				"error", err,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal server error",
			})
		}

		status := richErr.Code
		if status < http.StatusBadRequest || status > 599 {
			status = fiber.StatusBadRequest
		}

		body := fiber.Map{"error": richErr.Message}
		if richErr.TextCode != "" {
			body["code"] = richErr.TextCode
		}
		return c.Status(status).JSON(body)
	}
}
