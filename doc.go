// Package auth is the authentication and session-token layer of a social
// backend: registration, credential login, logout, email verification, and
// password-reset flows, each backed by a distinct signed token kind with its
// own secret and expiry.
//
// Token codec:
//   - Codec signs and verifies four token kinds (access, refresh,
//     email-verify, forgot-password). A token only verifies under the secret
//     of its own kind, and IssuePair signs the access/refresh pair
//     concurrently so sessions open in a single joint await.
//
// Validation pipeline:
//   - Requests run through an ordered validator Chain that stops at the first
//     failure. Validators stash what they resolve (claims, users, refresh
//     rows) in a write-once RequestContext that is handed to the service.
//     Field-scoped failures aggregate into a 422 field map; auth and
//     business-rule failures short-circuit with their own status.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by AccountService to
//     describe registration, login, verification, and password reset events.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking authentication.
package auth
