package identity

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/suPer8Hu/echoroom/internal/auth"
	"github.com/suPer8Hu/echoroom/internal/models"
)

// UserDirectory resolves a user id to its display label.
type UserDirectory interface {
	DisplayLabel(ctx context.Context, userID uint64) (string, error)
}

// JWTVerifier accepts access tokens issued by the auth endpoints.
type JWTVerifier struct {
	secret string
	users  UserDirectory
}

func NewJWTVerifier(secret string, users UserDirectory) *JWTVerifier {
	return &JWTVerifier{secret: secret, users: users}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	claims, err := auth.ParseJWT(credential, v.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	label, err := v.users.DisplayLabel(ctx, claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Label: label}, nil
}

type GormUsers struct {
	db *gorm.DB
}

func NewGormUsers(db *gorm.DB) *GormUsers { return &GormUsers{db: db} }

func (u *GormUsers) DisplayLabel(ctx context.Context, userID uint64) (string, error) {
	var user models.User
	err := u.db.WithContext(ctx).Select("id", "display_name").First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: unknown user %d", ErrAuth, userID)
		}
		return "", err
	}
	return user.DisplayName, nil
}
