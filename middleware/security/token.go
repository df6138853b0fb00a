package security

import (
	"context"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/gutche/yappin/module/chat/model"
	"github.com/gutche/yappin/tools/errs"
)

// JWTAuthenticator is the default stand-in for the external auth
// collaborator: fresh credentials are an HS256 token carrying the user id
// and display name, as issued by the account service at login.
type JWTAuthenticator struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, ttl: 2 * time.Hour}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, credentials string) (model.UserIdentity, error) {
	parsed, err := jwtlib.Parse(credentials, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return model.UserIdentity{}, errs.ErrAuthFailure
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return model.UserIdentity{}, errs.ErrAuthFailure
	}
	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return model.UserIdentity{}, errs.ErrAuthFailure
	}
	return model.UserIdentity{ID: sub, Username: name}, nil
}

// Issue signs credentials for a user. The account service owns issuance
// in production; this keeps local development and tests self-contained.
func (a *JWTAuthenticator) Issue(user model.UserIdentity) (string, error) {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub":  user.ID,
		"name": user.Username,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(a.ttl).Unix(),
	}
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
