package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Skotchmaster/dailyquiz/internal/domain"
	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/labstack/echo/v4"
)

// ErrorHandler writes every error as {"detail": message}. Internal errors
// are logged and replaced by a generic message.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail, challenge := mapError(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "error", err)
	}
	if challenge != "" {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, challenge)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, echo.Map{"detail": detail})
}

func mapError(err error) (status int, detail, challenge string) {
	var de *domain.Error
	if errors.As(err, &de) {
		switch {
		case errors.Is(de, domain.ErrUnauthenticated):
			challenge = de.Challenge
			if challenge == "" {
				challenge = "Bearer"
			}
			return http.StatusUnauthorized, de.Message, challenge
		case errors.Is(de, domain.ErrForbidden):
			return http.StatusForbidden, de.Message, ""
		case errors.Is(de, domain.ErrConflict), errors.Is(de, domain.ErrValidation):
			return http.StatusBadRequest, de.Message, ""
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		if he.Code == http.StatusUnauthorized {
			challenge = "Bearer"
		}
		return he.Code, msg, challenge
	}

	return http.StatusInternalServerError, "Internal server error", ""
}
