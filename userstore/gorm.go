package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/fieldcipher/rotor"
)

// userRow is the relational shape of a user. Uniqueness lives in the schema
// so concurrent registrations cannot race past the application check.
type userRow struct {
	UserID       string `gorm:"column:user_id;primaryKey;size:36"`
	Username     string `gorm:"column:username;uniqueIndex;size:64;not null"`
	Email        string `gorm:"column:email;uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"column:password_hash;not null"`
	CreatedAt    int64  `gorm:"column:created_at;not null"`
	LastLogin    int64  `gorm:"column:last_login"`
}

func (userRow) TableName() string { return "rotor_users" }

// GormStore is the Postgres-backed credential store. Open the gorm.DB with
// TranslateError enabled so unique violations surface as
// gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns a [GormStore].
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("userstore: nil gorm db")
	}
	if err := db.AutoMigrate(&userRow{}); err != nil {
		return nil, fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	return &GormStore{db: db}, nil
}

// CreateUser inserts a user; identifier collisions map to rotor.ErrUserExists.
func (s *GormStore) CreateUser(ctx context.Context, user *rotor.UserRecord) error {
	if user.UserID == "" || user.Username == "" || user.Email == "" {
		return errors.New("userstore: incomplete user record")
	}

	row := userRow{
		UserID:       user.UserID,
		Username:     strings.ToLower(user.Username),
		Email:        strings.ToLower(user.Email),
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
		LastLogin:    user.LastLogin,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return rotor.ErrUserExists
		}
		return fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	return nil
}

// GetByUsername loads a user by username.
func (s *GormStore) GetByUsername(ctx context.Context, username string) (*rotor.UserRecord, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("username = ?", strings.ToLower(username)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rotor.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	return recordFromRow(&row), nil
}

// GetByID loads a user by id.
func (s *GormStore) GetByID(ctx context.Context, userID string) (*rotor.UserRecord, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rotor.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	return recordFromRow(&row), nil
}

// UpdateLastLogin stamps the last successful login time.
func (s *GormStore) UpdateLastLogin(ctx context.Context, userID string, lastLogin int64) error {
	result := s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("user_id = ?", userID).
		Update("last_login", lastLogin)
	if result.Error != nil {
		return fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return rotor.ErrUserNotFound
	}
	return nil
}

// ListUsers returns every user. Operator surface.
func (s *GormStore) ListUsers(ctx context.Context) ([]*rotor.UserRecord, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}

	users := make([]*rotor.UserRecord, 0, len(rows))
	for i := range rows {
		users = append(users, recordFromRow(&rows[i]))
	}
	return users, nil
}

func recordFromRow(row *userRow) *rotor.UserRecord {
	return &rotor.UserRecord{
		UserID:       row.UserID,
		Username:     row.Username,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
		LastLogin:    row.LastLogin,
	}
}
