// Package auth provides staff sessions for the newswire console.
//
// # Sessions
//
// A session token is 32 random bytes encoded as base64url. Only the sha256
// hex digest is stored, in the sessions table, so a database read does not
// leak usable credentials.
//
//	store := auth.NewSessionStore(db, 14*24*time.Hour)
//	token, user, err := store.CreateForUsername(ctx, "editor", time.Now())
//
//	user, sess, err := store.Authenticate(ctx, token, time.Now())
//	if errors.Is(err, auth.ErrSessionExpired) { ... }
//
// Clients present the token in the nnn_staff_session cookie or as an
// Authorization Bearer header. Only STAFF and ADMIN roles pass the staff
// middleware in pkg/middleware.
package auth
