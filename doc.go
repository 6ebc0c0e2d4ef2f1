// Package gatekeeper provides the session and token lifecycle primitives
// (token issuance and verification, privilege checks, session orchestration)
// together with the bun backed principal repository and HTTP helpers.
//
// Tokens:
//   - TokenService mints a TokenPair per successful sign-in, sign-up or
//     refresh. Access tokens live 24h and refresh tokens 7d unless Config says
//     otherwise. Every token carries a purpose claim and Verify refuses a token
//     presented for the other purpose.
//   - Verification failures collapse into ErrTokenRejected. RejectionReason
//     exposes the sub-reason for logs and tests only.
//
// Privilege:
//   - PrivilegeGate verifies the access token and then reloads the principal
//     on every call. Privilege is never read from claims, so revoking the flag
//     takes effect on the next request without a token blacklist.
//
// Sessions:
//   - Sessions validates email and password format before talking to an
//     IdentityProvider and mirrors the outcome into a keychain.Store.
//
// Activity sinks:
//   - ActivitySink is a best-effort emitter used by Authenticator. The
//     JobActivitySink forwards events to the jobs queue so notification
//     delivery stays out of the request path.
package gatekeeper
