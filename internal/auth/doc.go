// Package auth issues and validates the assistant's access tokens.
//
// Tokens are HS256-signed JWTs whose subject claim carries the user id:
// GenerateAccessToken creates one and ParseToken verifies one and returns
// its claims. An expired token is reported as ErrTokenExpired and any other
// validation failure as ErrTokenInvalid. The package has no roles, password
// hashing, refresh tokens or per-room grants.
package auth
