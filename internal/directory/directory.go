package directory

import (
	"crypto/subtle"
	"sync"
)

// Conn is the subset of gateway connection behavior the directory needs in
// order to manage attach/detach and duplicate-connection eviction. Satisfied
// by internal/gateway.Connection.
type Conn interface {
	ClientID() string
	Close() error
}

type userRecord struct {
	clientToken string
	linked      bool
}

// Directory maps gateway bearer tokens to users and tracks each user's live
// connections, keyed by clientId. It is the single writer of the
// user↔connection table; all mutation goes through its own lock.
// Grounded on this repo's registry-style components: a lock-guarded map plus
// an explicit "only remove if still current" detach discipline, the same
// shape as the teacher's WebSocket Hub register/unregister pair.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*userRecord // userID -> record

	connMu      sync.Mutex
	connections map[string]map[string]Conn // userID -> clientID -> Conn
}

// New constructs an empty Directory.
func New() *Directory {
	return &Directory{
		users:       make(map[string]*userRecord),
		connections: make(map[string]map[string]Conn),
	}
}

// Register records (or updates) userID's gateway bearer token and marks it
// linked. The user record's lifetime is external to any one connection.
func (d *Directory) Register(userID, clientToken string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[userID] = &userRecord{clientToken: clientToken, linked: true}
}

// ResolveToken looks up the UserId owning token. The comparison touches
// every registered user on every call, win or lose, so that the time taken
// does not leak whether any particular token exists.
func (d *Directory) ResolveToken(token string) (userID string, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tokenBytes := []byte(token)
	for candidateID, rec := range d.users {
		candidate := []byte(rec.clientToken)
		if len(candidate) != len(tokenBytes) {
			continue
		}
		if subtle.ConstantTimeCompare(tokenBytes, candidate) == 1 {
			userID, ok = candidateID, true
		}
	}
	return userID, ok
}

// Attach registers conn as the live connection for (userID, clientId). If a
// connection already exists for that pair, it is closed after the swap so
// exactly one connection is ever routable for a given clientId.
func (d *Directory) Attach(userID string, conn Conn) {
	clientID := conn.ClientID()

	d.connMu.Lock()
	byClient, ok := d.connections[userID]
	if !ok {
		byClient = make(map[string]Conn)
		d.connections[userID] = byClient
	}
	old, hadOld := byClient[clientID]
	byClient[clientID] = conn
	d.connMu.Unlock()

	if hadOld {
		_ = old.Close()
	}
}

// Detach removes conn as the routable connection for (userID, clientId),
// but only if conn is still the current entry — a connection whose Close
// raced with a newer Attach must not evict the replacement. Idempotent.
func (d *Directory) Detach(userID string, conn Conn) {
	clientID := conn.ClientID()

	d.connMu.Lock()
	defer d.connMu.Unlock()

	byClient, ok := d.connections[userID]
	if !ok {
		return
	}
	if current, ok := byClient[clientID]; !ok || current != conn {
		return
	}
	delete(byClient, clientID)
	if len(byClient) == 0 {
		delete(d.connections, userID)
	}
}

// ConnectionsOf returns a snapshot of userID's currently live connections.
func (d *Directory) ConnectionsOf(userID string) []Conn {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	byClient := d.connections[userID]
	out := make([]Conn, 0, len(byClient))
	for _, c := range byClient {
		out = append(out, c)
	}
	return out
}

// SetLinked updates whether the assistant currently has userID linked.
func (d *Directory) SetLinked(userID string, linked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.users[userID]; ok {
		rec.linked = linked
	}
}

// IsLinked reports whether userID is currently linked.
func (d *Directory) IsLinked(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.users[userID]
	return ok && rec.linked
}

// ConnectionCount returns the number of currently routable gateway
// connections across all users, for the operator metrics endpoint.
func (d *Directory) ConnectionCount() int {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	n := 0
	for _, byClient := range d.connections {
		n += len(byClient)
	}
	return n
}

// PurgeRouting drops cached connection routing entries for userID, as a
// fulfillment Disconnect intent requires. It does not close the underlying
// gateway sockets — the connections may remain live and will simply route
// nowhere until the user relinks.
func (d *Directory) PurgeRouting(userID string) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	delete(d.connections, userID)
}
