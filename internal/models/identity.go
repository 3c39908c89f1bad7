package models

// Identity is the authenticated caller as established by the auth
// middleware. The engine never loads user accounts itself; it only
// consumes this projection.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	AVP      bool   `json:"avp"`
}

// AccessSettings holds the global access switches an admin can toggle.
// An empty allow-list means every authenticated user passes that gate.
type AccessSettings struct {
	BlockAVPAccess bool    `json:"block_avp_access"`
	AllowList      []int64 `json:"allow_list"`
}

// Allows reports whether the allow-list admits the user. A nil or empty
// list admits everyone.
func (s *AccessSettings) Allows(userID int64) bool {
	if len(s.AllowList) == 0 {
		return true
	}
	for _, id := range s.AllowList {
		if id == userID {
			return true
		}
	}
	return false
}
