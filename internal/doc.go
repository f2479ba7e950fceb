// Package internal groups helpers that are private to portalauth.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - cli: the portalctl command tree
//
// # What this package must NOT do
//
//   - Export types that appear in the public portalauth API except through
//     root-level aliases.
//   - Be imported by any package outside the portalauth module.
package internal
