// Package auth mints and checks the bearer tokens that guard the bridge API.
//
// There are two roles. A viewer may read channels, state and metrics; an
// operator may also send commands to the purifier. Tokens are HS256 JWTs
// signed with security.jwt.secret and minted offline with
// "purelink token".
package auth
