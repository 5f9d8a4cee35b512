// Package provider is the HealthyDB Session Store.
//
// It is the single entry point the web layer uses for authentication: reading and refreshing
// the current session from cookie credentials, password sign-in and sign-up, magic-link
// sign-in, sign-out, and subscribing to session changes for a browser device.
//
// Every state change is published as an events.Event scoped to the device that caused it,
// which is how mounted Auth Contexts learn about sign-in and sign-out without re-querying.
package provider
