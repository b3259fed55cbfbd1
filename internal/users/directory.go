// Package users is the messaging core's view of the platform's user
// accounts. Account lifecycle (signup, credentials, profiles) is owned
// by an external service; this directory only mirrors the fields needed
// to decorate messages and resolve recipients.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studybuddy/internal/content"
	"studybuddy/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const cacheTTL = 5 * time.Minute

type Store interface {
	UpsertUser(user models.User) error
	GetUser(id string) (models.User, error)
	ListUsers() ([]models.User, error)
}

// Directory resolves user IDs to user records, caching lookups since
// every sent message triggers two of them.
type Directory struct {
	store Store
	cache geche.Geche[string, models.User]
}

func NewDirectory(ctx context.Context, store Store) *Directory {
	return &Directory{
		store: store,
		cache: geche.NewMapTTLCache[string, models.User](ctx, cacheTTL, time.Minute),
	}
}

// FindByID returns the user record for the given ID, consulting the
// cache first. Unknown IDs return models.ErrNotFound.
func (d *Directory) FindByID(id string) (models.User, error) {
	if user, err := d.cache.Get(id); err == nil {
		return user, nil
	}

	user, err := d.store.GetUser(id)
	if err != nil {
		return models.User{}, err
	}
	d.cache.Set(id, user)
	return user, nil
}

// Upsert registers or updates a user record. An empty ID gets a fresh
// one assigned. The username is validated and the fields sanitized
// before they can ever reach another client's DOM.
func (d *Directory) Upsert(user models.User) (models.User, error) {
	if err := content.ValidateUsername(user.Username); err != nil {
		return models.User{}, fmt.Errorf("invalid username: %w", err)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Avatar = content.Sanitize(user.Avatar)

	if err := d.store.UpsertUser(user); err != nil {
		return models.User{}, err
	}
	d.cache.Set(user.ID, user)
	return user, nil
}

func (d *Directory) List() ([]models.User, error) {
	return d.store.ListUsers()
}

// Exists reports whether the ID belongs to a known user.
func (d *Directory) Exists(id string) (bool, error) {
	_, err := d.FindByID(id)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
