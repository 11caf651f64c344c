package auth

import "github.com/google/uuid"

// HasUserUUID reports whether AuthClaims.UserUUID will succeed.
func HasUserUUID(claims AuthClaims) bool {
	if claims == nil {
		return false
	}
	_, err := claims.UserUUID()
	return err == nil
}

// newTokenID generates a jti. Distinct ids make every signed token unique,
// even two refresh tokens issued for the same user in the same second.
func newTokenID() string {
	return uuid.NewString()
}
