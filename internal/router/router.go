package router

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tapcore/internal/config"
	"tapcore/internal/handler"
)

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	cfg *config.Config,
	paymentHandler *handler.PaymentHandler,
	adminHandler *handler.AdminHandler,
) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Add validator
	e.Validator = &CustomValidator{validator: validator.New()}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := e.Group("/api")

	// Terminal-facing payment routes
	api.POST("/payments/authorize", paymentHandler.AuthorizeAndPay)
	api.GET("/transactions/:id", paymentHandler.GetTransaction)
	api.POST("/transactions/:id/cancel", paymentHandler.Cancel)
	api.POST("/transactions/:id/refund", paymentHandler.Refund)

	// Admin routes (require JWT minted by the ops identity service)
	admin := api.Group("/admin", echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(cfg.JWTSecret),
		TokenLookup: "header:" + echo.HeaderAuthorization,
	}))

	admin.GET("/cards/:id", adminHandler.GetCard)
	admin.POST("/cards/:id/block", adminHandler.BlockCard)
	admin.POST("/cards/:id/unblock", adminHandler.UnblockCard)
	admin.POST("/cards/:id/reset-limits", adminHandler.ResetLimits)
	admin.POST("/decisions/prewarm", adminHandler.Prewarm)
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
