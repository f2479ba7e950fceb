// Package provider picks the portalauth.Gateway variant for the process.
//
// Select is called once at the composition root. Consumers receive the
// result through the Engine and never branch on which variant they got.
package provider
