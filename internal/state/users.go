package state

import (
	"github.com/matt0x6f/ircsync/internal/events"
)

func (n *Network) publishUsers(b *Buffer, count int) {
	data := map[string]interface{}{events.KeyCount: count}
	if b != nil {
		data[events.KeyBufferID] = b.ID
	}
	n.publish(events.EventUsersChanged, data)
}

// User returns a copy of the user record for nick
func (n *Network) User(nick string) (User, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	u, ok := n.users[n.casemap.Key(nick)]
	if !ok {
		return User{}, false
	}
	return u.copy(), true
}

// Users returns copies of every known user
func (n *Network) Users() []User {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]User, 0, len(n.users))
	for _, u := range n.users {
		out = append(out, u.copy())
	}
	return out
}

// Members returns copies of the users present in b
func (n *Network) Members(b *Buffer) []User {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]User, 0, len(b.members))
	for _, u := range b.members {
		out = append(out, u.copy())
	}
	return out
}

func (n *Network) addUserLocked(upd UserUpdate) *User {
	if upd.Nick == "" {
		return nil
	}
	key := n.casemap.Key(upd.Nick)
	u, ok := n.users[key]
	if !ok {
		u = &User{Nick: upd.Nick, Buffers: make(map[int64][]rune)}
		n.users[key] = u
	}
	u.merge(upd)
	return u
}

// AddUser creates or merges a user record
func (n *Network) AddUser(upd UserUpdate) {
	n.mu.Lock()
	u := n.addUserLocked(upd)
	n.mu.Unlock()

	if u != nil {
		n.publishUsers(nil, 1)
	}
}

// ApplyUsers merges a whole batch of updates against one locked snapshot
// and publishes a single change for all of them.
func (n *Network) ApplyUsers(upds []UserUpdate) {
	if len(upds) == 0 {
		return
	}
	n.mu.Lock()
	count := 0
	for _, upd := range upds {
		if n.addUserLocked(upd) != nil {
			count++
		}
	}
	n.mu.Unlock()

	n.publishUsers(nil, count)
}

func (n *Network) addMemberLocked(b *Buffer, upd UserUpdate, modes []rune) *User {
	u := n.addUserLocked(upd)
	if u == nil {
		return nil
	}
	if _, ok := u.Buffers[b.ID]; !ok || modes != nil {
		u.Buffers[b.ID] = dedupeModes(modes)
	}
	b.members[n.casemap.Key(u.Nick)] = u
	return u
}

// AddUserToBuffer records upd as a member of b. Existing privilege modes are
// kept when modes is nil.
func (n *Network) AddUserToBuffer(b *Buffer, upd UserUpdate, modes []rune) {
	n.mu.Lock()
	u := n.addMemberLocked(b, upd, modes)
	n.mu.Unlock()

	if u != nil {
		n.publishUsers(b, 1)
	}
}

// AddUsersToBuffer records every member of a userlist reply in one step
func (n *Network) AddUsersToBuffer(b *Buffer, members []Member) {
	n.mu.Lock()
	count := 0
	for _, m := range members {
		modes := m.Modes
		if modes == nil {
			modes = []rune{}
		}
		if n.addMemberLocked(b, m.User, modes) != nil {
			count++
		}
	}
	n.mu.Unlock()

	n.publishUsers(b, count)
}

// dropMembershipLocked removes u from b and forgets u once it shares no buffer
func (n *Network) dropMembershipLocked(b *Buffer, key Key, u *User) {
	delete(u.Buffers, b.ID)
	delete(b.members, key)
	if len(u.Buffers) == 0 {
		delete(n.users, key)
	}
}

// RemoveUserFromBuffer removes nick from b. The user record is removed when
// this was its last shared buffer. It reports whether a membership existed.
func (n *Network) RemoveUserFromBuffer(b *Buffer, nick string) bool {
	n.mu.Lock()
	key := n.casemap.Key(nick)
	u, ok := b.members[key]
	if !ok {
		n.mu.Unlock()
		return false
	}
	n.dropMembershipLocked(b, key, u)
	n.mu.Unlock()

	n.publishUsers(b, 1)
	return true
}

// ClearUsers removes every membership of b
func (n *Network) ClearUsers(b *Buffer) {
	n.mu.Lock()
	count := len(b.members)
	for key, u := range b.members {
		n.dropMembershipLocked(b, key, u)
	}
	n.mu.Unlock()

	if count > 0 {
		n.publishUsers(b, count)
	}
}

// RemoveUser forgets nick and all of its memberships
func (n *Network) RemoveUser(nick string) {
	n.mu.Lock()
	key := n.casemap.Key(nick)
	u, ok := n.users[key]
	if !ok {
		n.mu.Unlock()
		return
	}
	for id := range u.Buffers {
		if b, ok := n.byID[id]; ok {
			delete(b.members, key)
		}
	}
	delete(n.users, key)
	n.mu.Unlock()

	n.publishUsers(nil, 1)
}

// ChangeUserNick relabels a user and every membership that references it.
// Privilege modes are carried over unchanged.
func (n *Network) ChangeUserNick(oldNick, newNick string) {
	n.mu.Lock()
	oldKey := n.casemap.Key(oldNick)
	newKey := n.casemap.Key(newNick)
	u, ok := n.users[oldKey]
	if !ok {
		n.mu.Unlock()
		n.log.Debug().Str("nick", oldNick).Msg("Nick change for unknown user")
		return
	}

	delete(n.users, oldKey)
	u.Nick = newNick
	n.users[newKey] = u
	for id := range u.Buffers {
		if b, ok := n.byID[id]; ok {
			delete(b.members, oldKey)
			b.members[newKey] = u
		}
	}
	n.mu.Unlock()

	n.publishUsers(nil, 1)
}

// BuffersWithUser returns, in creation order, every buffer nick is a member of
func (n *Network) BuffersWithUser(nick string) []*Buffer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	u, ok := n.users[n.casemap.Key(nick)]
	if !ok {
		return nil
	}
	var out []*Buffer
	for _, b := range n.order {
		if _, ok := u.Buffers[b.ID]; ok {
			out = append(out, b)
		}
	}
	return out
}

// AddUserMode grants mode to nick in b. It reports whether anything changed.
func (n *Network) AddUserMode(b *Buffer, nick string, mode rune) bool {
	n.mu.Lock()
	u, ok := n.users[n.casemap.Key(nick)]
	if !ok {
		n.mu.Unlock()
		return false
	}
	modes, member := u.Buffers[b.ID]
	if !member || u.HasMode(b.ID, mode) {
		n.mu.Unlock()
		return false
	}
	u.Buffers[b.ID] = append(modes, mode)
	n.mu.Unlock()

	n.publishUsers(b, 1)
	return true
}

// RemoveUserMode revokes mode from nick in b. It reports whether anything changed.
func (n *Network) RemoveUserMode(b *Buffer, nick string, mode rune) bool {
	n.mu.Lock()
	u, ok := n.users[n.casemap.Key(nick)]
	if !ok {
		n.mu.Unlock()
		return false
	}
	modes := u.Buffers[b.ID]
	idx := -1
	for i, m := range modes {
		if m == mode {
			idx = i
			break
		}
	}
	if idx == -1 {
		n.mu.Unlock()
		return false
	}
	u.Buffers[b.ID] = append(modes[:idx:idx], modes[idx+1:]...)
	n.mu.Unlock()

	n.publishUsers(b, 1)
	return true
}

func dedupeModes(modes []rune) []rune {
	out := make([]rune, 0, len(modes))
	for _, m := range modes {
		dup := false
		for _, o := range out {
			if o == m {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}
