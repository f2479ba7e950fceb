// Package session persists the identity provider's session state between
// process runs, so that a signed-in user stays signed in across restarts.
//
// # Binary encoding
//
// Records are stored as a compact, versioned binary blob (schema v1 and v2)
// and migrated forward on read. The encoder is append-only: new versions add
// fields but never reinterpret old ones.
//
// # Backends
//
// [RedisStore] keeps records in Redis under a key prefix. [MemoryStore] keeps
// them in process memory and is used when no Redis address is configured.
// Both satisfy [Persistence].
//
// # What this package must NOT do
//
//   - Import portalauth, jwt, or any provider package (no upward imports).
//   - Interpret access tokens or talk to the identity provider.
//   - Log or expose refresh tokens.
package session
