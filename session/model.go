package session

// Session is the server-side record of one login. CreatedAt and ExpiresAt are
// Unix seconds.
type Session struct {
	SessionID string
	UserID    int64
	Username  string

	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the session has passed its absolute expiry at the
// given Unix time.
func (s *Session) Expired(nowUnix int64) bool {
	return s.ExpiresAt <= nowUnix
}
