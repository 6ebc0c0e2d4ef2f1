package gatekeeper

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
)

type HTTPControllerRoutes struct {
	SignUp    string
	SignIn    string
	Refresh   string
	SignOut   string
	Me        string
	AdminByID string
}

// HTTPController exposes the identity provider over JSON
type HTTPController struct {
	Logger            Logger
	Routes            *HTTPControllerRoutes
	provider          IdentityProvider
	verifier          TokenVerifier
	gate              *PrivilegeGate
	cfg               Config
	clock             func() time.Time
	minPasswordLength int
	credentialLimiter fiber.Handler
}

// NewHTTPController wires the routes served by auth. Admin routes run
// behind gate.
func NewHTTPController(auth *Authenticator, gate *PrivilegeGate, cfg Config) *HTTPController {
	c := &HTTPController{
		Logger: defLogger{},
		Routes: &HTTPControllerRoutes{
			SignUp:    "/auth/sign-up",
			SignIn:    "/auth/sign-in",
			Refresh:   "/auth/refresh",
			SignOut:   "/auth/sign-out",
			Me:        "/auth/me",
			AdminByID: "/admin/principals/:id",
		},
		provider:          auth,
		verifier:          auth.TokenService(),
		gate:              gate,
		cfg:               cfg,
		clock:             time.Now,
		minPasswordLength: DefaultMinPasswordLength,
	}

	if cfg != nil && cfg.GetMinPasswordLength() > 0 {
		c.minPasswordLength = cfg.GetMinPasswordLength()
	}

	return c
}

func (h *HTTPController) WithLogger(logger Logger) *HTTPController {
	h.Logger = resolveLogger(logger)
	return h
}

// WithCredentialLimiter guards sign-in and sign-up with limiter
func (h *HTTPController) WithCredentialLimiter(limiter fiber.Handler) *HTTPController {
	h.credentialLimiter = limiter
	return h
}

func (h *HTTPController) WithClock(clock func() time.Time) *HTTPController {
	if clock != nil {
		h.clock = clock
	}
	return h
}

// Register mounts every route on r
func (h *HTTPController) Register(r fiber.Router) {
	credentials := []fiber.Handler{}
	if h.credentialLimiter != nil {
		credentials = append(credentials, h.credentialLimiter)
	}

	r.Post(h.Routes.SignUp, append(credentials, h.SignUp)...).Name("auth.sign-up")
	r.Post(h.Routes.SignIn, append(credentials, h.SignIn)...).Name("auth.sign-in")
	r.Post(h.Routes.Refresh, h.Refresh).Name("auth.refresh")

	protected := ProtectedRoute(h.cfg, h.verifier, h.clock)
	r.Post(h.Routes.SignOut, protected, h.SignOut).Name("auth.sign-out")
	r.Get(h.Routes.Me, protected, h.Me).Name("auth.me")

	r.Get(h.Routes.AdminByID, AdminRoute(h.cfg, h.gate), h.GetPrincipal).Name("admin.principal")
}

// CredentialsRequest is the sign-in and sign-up payload
type CredentialsRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate only checks presence. Format rules live in ValidateSignIn and
// ValidateSignUp so clients and server agree on them.
func (r CredentialsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 128)),
	)
}

// RefreshRequest carries the refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (h *HTTPController) SignUp(c *fiber.Ctx) error {
	payload := new(CredentialsRequest)
	if err := h.bind(c, payload); err != nil {
		return err
	}

	if err := ValidateSignUp(payload.Email, payload.Password, h.minPasswordLength); err != nil {
		return err
	}

	res, err := h.provider.SignUp(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *HTTPController) SignIn(c *fiber.Ctx) error {
	payload := new(CredentialsRequest)
	if err := h.bind(c, payload); err != nil {
		return err
	}

	if err := ValidateSignIn(payload.Email, payload.Password); err != nil {
		return err
	}

	res, err := h.provider.SignIn(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	return c.JSON(res)
}

func (h *HTTPController) Refresh(c *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if err := h.bind(c, payload); err != nil {
		return err
	}

	res, err := h.provider.Refresh(c.UserContext(), payload.RefreshToken)
	if err != nil {
		return err
	}

	return c.JSON(res)
}

func (h *HTTPController) SignOut(c *fiber.Ctx) error {
	if err := h.provider.SignOut(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *HTTPController) Me(c *fiber.Ctx) error {
	principal, err := h.provider.CurrentUser(c.UserContext())
	if err != nil {
		if isNotFound(err) {
			return UnauthorizedHandler(c, err)
		}
		return err
	}
	if principal == nil {
		return UnauthorizedHandler(c, nil)
	}
	return c.JSON(principal)
}

// GetPrincipal is admin-only
func (h *HTTPController) GetPrincipal(c *fiber.Ctx) error {
	principal, err := h.gate.principals.FindByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(principal)
}

type validatable interface {
	Validate() error
}

func (h *HTTPController) bind(c *fiber.Ctx, payload validatable) error {
	if err := c.BodyParser(payload); err != nil {
		h.Logger.Info("failed to parse request body", "path", c.Path(), "error", err)
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	return payload.Validate()
}
