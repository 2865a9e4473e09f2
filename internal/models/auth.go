package models

// LoginInfo is an email plus password hash pair.
type LoginInfo struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// IsValid reports whether both credentials are present.
func (l LoginInfo) IsValid() bool {
	return l.Login != "" && l.Password != ""
}

// AuthInfo is a login bound to a device.
type AuthInfo struct {
	LoginInfo
	DeviceID string `json:"device_id"`
}

// IsValid reports whether login, password and device are present.
func (a AuthInfo) IsValid() bool {
	return a.LoginInfo.IsValid() && a.DeviceID != ""
}

// Claim is the validated identity of an authenticated session.
// Claims are compared by value.
type Claim struct {
	AuthInfo
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"exp_date"` // ms since epoch
}

// IsValid reports whether the claim names a user and carries valid auth.
func (c Claim) IsValid() bool {
	return c.UserID != "" && c.AuthInfo.IsValid()
}

// Device is a subscriber device entry.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status int    `json:"status"`
}
