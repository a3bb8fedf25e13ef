// Package auth provides password login and cookie sessions for the API.
//
// Users are configured as a map of user id to scrypt hash. A successful
// login creates a session whose id travels in a cookie; sessions expire
// after the configured idle time. When authentication is enabled,
// RequireSession rejects requests without a live session with 401.
package auth
