package auth

type contextKey string

// UserContextKey carries the freshly loaded *store.User for the request.
const UserContextKey = contextKey("talon.user")
