package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pinpoint-labs/pinpoint/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies for identity bookkeeping.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records and serves user display data.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// EnsureIdentity records the authenticated user, creating the identity row on
// first sight and refreshing display data and last-seen otherwise. Returns
// the canonical user id.
func (s *Service) EnsureIdentity(claims auth.UserClaims) (string, error) {
	userID := normalize(claims.Subject)
	if userID == "" {
		return "", ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.Where("user_id = ?", userID).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			UserID:      userID,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.Name),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
		s.cache.Store(userID, identity)
		return userID, nil
	}
	if err != nil {
		return "", err
	}

	updates := map[string]interface{}{"last_seen_at": s.now()}
	if email := normalize(claims.Email); email != "" && email != identity.Email {
		updates["email"] = email
	}
	if display := normalize(claims.Name); display != "" && display != identity.DisplayName {
		updates["display_name"] = display
	}
	if err := s.db.Model(&Identity{}).Where("user_id = ?", userID).Updates(updates).Error; err != nil {
		return "", err
	}
	s.cache.Delete(userID)
	return userID, nil
}

// Lookup returns the stored identity for a user id.
func (s *Service) Lookup(userID string) (Identity, error) {
	userID = normalize(userID)
	if userID == "" {
		return Identity{}, ErrInvalidIdentity
	}
	if cached, ok := s.cache.Load(userID); ok {
		if identity, ok := cached.(Identity); ok {
			return identity, nil
		}
	}

	var identity Identity
	if err := s.db.Where("user_id = ?", userID).First(&identity).Error; err != nil {
		return Identity{}, err
	}
	s.cache.Store(userID, identity)
	return identity, nil
}
