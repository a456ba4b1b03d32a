package state

// User is a peer known on a network
type User struct {
	Nick     string
	Username string
	Hostname string
	Realname string
	Account  string
	Away     string
	// Extras holds optional whois attributes such as server, operator, idle
	Extras map[string]string
	// Buffers maps a buffer ID to the privilege modes held there
	Buffers map[int64][]rune
}

// HasMode reports whether the user holds mode in the buffer
func (u *User) HasMode(bufferID int64, mode rune) bool {
	for _, m := range u.Buffers[bufferID] {
		if m == mode {
			return true
		}
	}
	return false
}

// UserUpdate describes a merge into a user record. Nil fields are left
// untouched; a non-nil empty string clears the attribute.
type UserUpdate struct {
	Nick     string
	Username *string
	Hostname *string
	Realname *string
	Account  *string
	Away     *string
	Extras   map[string]string
}

// Member pairs a user update with its privilege modes in one buffer
type Member struct {
	User  UserUpdate
	Modes []rune
}

// Str returns a pointer to s, for filling UserUpdate fields
func Str(s string) *string {
	return &s
}

// NonEmpty returns a pointer to s, or nil when s is empty
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (u *User) merge(upd UserUpdate) {
	if upd.Nick != "" {
		u.Nick = upd.Nick
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Hostname != nil {
		u.Hostname = *upd.Hostname
	}
	if upd.Realname != nil {
		u.Realname = *upd.Realname
	}
	if upd.Account != nil {
		u.Account = *upd.Account
	}
	if upd.Away != nil {
		u.Away = *upd.Away
	}
	if len(upd.Extras) > 0 {
		if u.Extras == nil {
			u.Extras = make(map[string]string, len(upd.Extras))
		}
		for k, v := range upd.Extras {
			u.Extras[k] = v
		}
	}
}

func (u *User) copy() User {
	c := *u
	if u.Extras != nil {
		c.Extras = make(map[string]string, len(u.Extras))
		for k, v := range u.Extras {
			c.Extras[k] = v
		}
	}
	c.Buffers = make(map[int64][]rune, len(u.Buffers))
	for id, modes := range u.Buffers {
		c.Buffers[id] = append([]rune(nil), modes...)
	}
	return c
}
