package handler

import (
	"context"

	"github.com/labstack/echo/v4"

	"classifieds/internal/domain/entity"
	"classifieds/pkg/errors"
	"classifieds/pkg/response"
)

// TokenIssuer signs tokens the auth middleware accepts.
type TokenIssuer interface {
	IssueToken(ctx context.Context, userID, name string) (string, error)
}

// DevSeeder loads fixture data into stores that support it.
type DevSeeder interface {
	PutUser(user entity.UserSummary)
	PutProduct(product entity.ProductSummary)
	AddToWishlist(userID, productID string)
}

type DevTokenHandler struct {
	issuer TokenIssuer
	seeder DevSeeder
}

var devTokenHandler *DevTokenHandler

func NewDevTokenHandler(issuer TokenIssuer, seeder DevSeeder) *DevTokenHandler {
	return &DevTokenHandler{
		issuer: issuer,
		seeder: seeder,
	}
}

// SetupDevTokenHandler registers the development helpers. seeder may be nil.
func SetupDevTokenHandler(issuer TokenIssuer, seeder DevSeeder) {
	devTokenHandler = NewDevTokenHandler(issuer, seeder)
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}

type devTokenRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Name   string `json:"name"`
}

type wishlistEntry struct {
	UserID    string `json:"user_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
}

type seedRequest struct {
	Users    []entity.UserSummary `json:"users"`
	Products []struct {
		entity.ProductSummary
		Images []string `json:"images"`
	} `json:"products"`
	Wishlist []wishlistEntry `json:"wishlist" validate:"dive"`
}

// GenerateToken issues a token for any user id. When a seeder is present the
// user is registered with the given name so messages render with it.
func (h *DevTokenHandler) GenerateToken(c echo.Context) error {
	var req devTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if h.seeder != nil && req.Name != "" {
		h.seeder.PutUser(entity.UserSummary{ID: req.UserID, Name: req.Name})
	}

	token, err := h.issuer.IssueToken(c.Request().Context(), req.UserID, req.Name)
	if err != nil {
		return response.Error(c, errors.Internal("Failed to issue token", err))
	}

	return response.Success(c, map[string]interface{}{
		"token":   token,
		"user_id": req.UserID,
	})
}

// Seed loads users, products and wishlist entries into the memory store.
func (h *DevTokenHandler) Seed(c echo.Context) error {
	if h.seeder == nil {
		return response.Error(c, errors.BadRequest("Seeding requires STORE_DRIVER=memory", nil))
	}

	var req seedRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	for _, user := range req.Users {
		if user.ID == "" {
			return response.Error(c, errors.Validation("users.id", "is required"))
		}
		h.seeder.PutUser(user)
	}
	for _, product := range req.Products {
		if product.ID == "" {
			return response.Error(c, errors.Validation("products.id", "is required"))
		}
		summary := product.ProductSummary
		summary.Images = product.Images
		h.seeder.PutProduct(summary)
	}
	for _, entry := range req.Wishlist {
		h.seeder.AddToWishlist(entry.UserID, entry.ProductID)
	}

	return response.Success(c, map[string]int{
		"users":    len(req.Users),
		"products": len(req.Products),
		"wishlist": len(req.Wishlist),
	})
}
