// Package auth turns an email and a one-time code into a short-lived session
// token, and validates session tokens presented on the protocol surface.
package auth
