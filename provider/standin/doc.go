// Package standin implements the offline portalauth.Gateway used when no
// identity provider is configured.
//
// Every call resolves from memory. Sign-up validates its input, hashes the
// password with argon2id and mints an HS256 access token with a fixed,
// non-secret key, so consumers exercise the same code paths they would
// against the hosted provider.
package standin
