package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/example/authgate/internal/domain"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	Create(u *domain.User) error
	FindByID(id uint) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	FindByProviderIdentity(provider, providerUserID string) (*domain.User, error)
	Update(u *domain.User) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) Create(u *domain.User) error {
	return r.db.Create(u).Error
}

func (r *GormUserRepository) FindByID(id uint) (*domain.User, error) {
	var u domain.User
	if err := r.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(email string) (*domain.User, error) {
	var u domain.User
	if err := r.db.Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByProviderIdentity(provider, providerUserID string) (*domain.User, error) {
	var u domain.User
	err := r.db.Where("provider = ? AND provider_user_id = ?", provider, providerUserID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) Update(u *domain.User) error {
	return r.db.Save(u).Error
}
