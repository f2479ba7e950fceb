// Package hosted implements portalauth.Gateway against a GoTrue-compatible
// identity provider over REST.
//
// Provider tokens are kept in a session.Persistence backend between runs so
// GetCurrentSession can recover the signed-in user at startup. The refresh
// token never leaves that backend. While a session is established a
// background refresher renews the access token shortly before it expires and
// reports the outcome through OnSessionChange.
//
// Close stops the refresher. It is safe to call more than once.
package hosted
