package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/Skotchmaster/dailyquiz/internal/db"
	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

type Deps struct {
	AuthHandler *AuthHTTP
	Guard       *Guard
	DB          *gorm.DB
	// Federated disables the endpoints that only make sense for
	// first-party credentials.
	Federated bool
}

// New builds an echo instance with the shared middleware stack.
func New(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(logger))
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/health/ready", func(c echo.Context) error {
		if err := db.Ping(c.Request().Context(), d.DB); err != nil {
			logging.FromContext(c.Request().Context()).Warn("not_ready", "error", err)
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	h, g := d.AuthHandler, d.Guard

	auth := e.Group("/auth")
	if !d.Federated {
		auth.POST("/register", h.Register)
		auth.POST("/token", h.Token)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout, g.RequireUser)
		auth.POST("/change-password", h.ChangePassword, g.RequireUser)
	}
	auth.GET("/me", h.Me, g.RequireUser)
	auth.PATCH("/me", h.UpdateMe, g.RequireUser)
	auth.GET("/session", h.Session, g.OptionalUser)

	admin := e.Group("/admin")
	admin.POST("/blocklist/purge", h.PurgeBlocklist, g.RequireUser, g.RequireAdmin)
}
