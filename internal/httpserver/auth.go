package httpserver

import (
	"net/http"

	"github.com/Skotchmaster/dailyquiz/internal/domain"
	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/Skotchmaster/dailyquiz/internal/service"
	"github.com/labstack/echo/v4"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

type registerRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email"    form:"email"    validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

type tokenRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password"     validate:"required"`
}

type profileRequest struct {
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	ClassLevel *string `json:"class_level"`
	Stream     *string `json:"stream"`
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		logging.FromContext(c.Request().Context()).Warn("bind_error", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return c.Validate(req)
}

func (h *AuthHTTP) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	u, err := h.Svc.Register(c.Request().Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

// Token is the password grant. It takes a form body like an OAuth2 client
// would send, JSON works as well.
func (h *AuthHTTP) Token(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil || c.Validate(&req) != nil {
		return domain.Unauthenticated("Incorrect username or password")
	}

	pair, err := h.Svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	pair, err := h.Svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	n, err := h.Svc.Logout(c.Request().Context(), CurrentUser(c), AccessClaims(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"detail":         "Successfully logged out",
		"revoked_tokens": n,
	})
}

func (h *AuthHTTP) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, CurrentUser(c))
}

func (h *AuthHTTP) UpdateMe(c echo.Context) error {
	var req profileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	u, err := h.Svc.UpdateProfile(c.Request().Context(), CurrentUser(c), service.ProfileUpdate{
		Username:   req.Username,
		Email:      req.Email,
		ClassLevel: req.ClassLevel,
		Stream:     req.Stream,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHTTP) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.Svc.ChangePassword(c.Request().Context(), CurrentUser(c), AccessClaims(c), req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"detail": "Password changed successfully. Please log in again."})
}

// Session reports who is calling without requiring credentials.
func (h *AuthHTTP) Session(c echo.Context) error {
	u := CurrentUser(c)
	if u == nil {
		return c.JSON(http.StatusOK, echo.Map{"authenticated": false})
	}
	return c.JSON(http.StatusOK, echo.Map{"authenticated": true, "user": u})
}

func (h *AuthHTTP) PurgeBlocklist(c echo.Context) error {
	n, err := h.Svc.PurgeExpiredBlocklist(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"purged": n})
}
