// Package jwt mints and reads HS256 access tokens in the identity provider's
// claim layout (sub, email, role, aal, user_metadata).
//
// The stand-in gateway mints tokens with a fixed local key. The hosted gateway
// verifies provider tokens when it knows the project secret and otherwise only
// inspects their claims.
package jwt
