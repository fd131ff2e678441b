package model

// Session is the identity the engine runs as, resolved once at startup.
type Session struct {
	User        User        `json:"user"`
	Permissions Permissions `json:"permissions"`
}

// UserID is a shorthand for Session.User.ID.
func (s Session) UserID() int64 { return s.User.ID }

// IsAdmin reports whether the session user is a site administrator.
func (s Session) IsAdmin() bool { return s.User.IsAdmin }
