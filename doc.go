// Package portalauth holds the authentication session lifecycle of the clinic
// self-service portal: who, if anyone, is signed in, and how that answer
// changes over time.
//
// The package is designed for concurrent use: an [Engine] built through
// [Builder.Build] may be shared by every consumer (CLI commands, HTTP
// handlers, background watchers) of a process.
//
// # Architecture boundaries
//
// portalauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [Store] and the [Gateway] capability, plus value types ([Session],
// [AuthError], [ProviderEvent]). Concrete identity providers live under
// provider/ and are selected exactly once by the composition root;
// persistence of provider tokens lives in session/.
//
// # What this package must NOT do
//
//   - Import any provider/ package (providers import portalauth, never the
//     reverse).
//   - Hand out mutable references to the current [Session]; consumers always
//     receive copies.
//   - Let a gateway result that was issued before a newer, already applied
//     operation overwrite the store.
//
// # Lifecycle
//
// A store starts Uninitialized. [Engine.Bootstrap] loads any existing
// provider session, publishes it, and mirrors later provider events into the
// store. Sign-up, sign-in and sign-out results are stamped with a sequence
// number at issue time and applied only if nothing newer has landed since.
package portalauth
