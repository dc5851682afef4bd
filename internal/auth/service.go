package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// AuthService looks up API clients by their bearer token.
type AuthService struct {
	db *gorm.DB
}

// NewAuthService creates a new AuthService instance
func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{
		db: db,
	}
}

// Migrate creates the API client table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&APIClient{})
}

// GetClient retrieves the API client registered for the given token.
// Returns gorm.ErrRecordNotFound when the token is unknown.
func (as *AuthService) GetClient(token string) (*APIClient, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}

	var client APIClient
	result := as.db.Where("token = ?", token).First(&client)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("unknown API token")
			return nil, result.Error
		}
		slog.Error("failed to fetch API client from database", "error", result.Error)
		return nil, fmt.Errorf("failed to fetch API client: %w", result.Error)
	}

	return &client, nil
}

// UpsertClient creates or updates an API client registration. Used by
// provisioning tooling, not by the request path.
func (as *AuthService) UpsertClient(client *APIClient) error {
	if client.Token == "" {
		return fmt.Errorf("token is empty")
	}
	if client.ClientID == "" {
		return fmt.Errorf("client ID is empty")
	}

	result := as.db.Save(client)
	if result.Error != nil {
		slog.Error("failed to upsert API client",
			"client_id", client.ClientID,
			"error", result.Error,
		)
		return fmt.Errorf("failed to upsert API client: %w", result.Error)
	}

	slog.Debug("API client upserted successfully", "client_id", client.ClientID)
	return nil
}
