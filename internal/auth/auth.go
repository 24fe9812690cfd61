package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// FromRequest extracts the authenticated caller from the request's bearer
// token. The token is an HS256 JWT carrying the user id in "sub" and the
// account role in "role".
func FromRequest(r *http.Request, secret []byte) (types.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return types.Identity{}, errors.New(errors.ErrInvalidToken, "missing authorization header")
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return types.Identity{}, errors.New(errors.ErrInvalidToken, "authorization header is not a bearer token")
	}

	// Verify JWT
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256(), secret),
		jwt.WithValidate(true))
	if err != nil {
		return types.Identity{}, &errors.AppError{
			Code:    errors.ErrInvalidToken,
			Message: "failed to validate token",
			Err:     err,
		}
	}

	// Check expiration
	if exp, ok := token.Expiration(); ok && exp.Before(time.Now()) {
		return types.Identity{}, errors.New(errors.ErrInvalidToken, "session token expired")
	}

	userID, ok := token.Subject()
	if !ok || userID == "" {
		return types.Identity{}, errors.New(errors.ErrInvalidToken, "token has no subject")
	}

	var role string
	if err := token.Get("role", &role); err != nil {
		return types.Identity{}, errors.New(errors.ErrInvalidToken, "token has no role claim")
	}

	return types.Identity{UserID: userID, Role: types.Role(role)}, nil
}
