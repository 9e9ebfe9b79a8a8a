package directory

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/herald-mqtt/internal/herald"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/database"
	_ "github.com/nerrad567/herald-mqtt/migrations" // registers the schema
)

// openTestRepo returns a repository over a migrated in-memory database.
func openTestRepo(t *testing.T) (*SQLiteRepository, *database.DB) {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB), db
}

// testAccess is the access type handled by recordingTransport.
type testAccess struct {
	Endpoint string
}

func (a testAccess) AccessID() string { return "test" }
func (a testAccess) Dump() any        { return a.Endpoint }

// recordingTransport is a herald.TransportDirectory for access type "test".
type recordingTransport struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTransport) AccessID() string { return "test" }

func (r *recordingTransport) LoadAccess(data any) (herald.Access, error) {
	s, ok := data.(string)
	if !ok || s == "" {
		return nil, errors.New("bad test access")
	}
	return testAccess{Endpoint: s}, nil
}

func (r *recordingTransport) PeerAccessSet(peer *herald.Peer, access herald.Access) {
	r.record("set " + peer.UID() + " " + access.Dump().(string))
}

func (r *recordingTransport) PeerAccessUnset(peer *herald.Peer, access herald.Access) {
	r.record("unset " + peer.UID() + " " + access.Dump().(string))
}

func (r *recordingTransport) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingTransport) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func description(uid string, accesses map[string]any, groups ...string) herald.Description {
	return herald.Description{
		UID:      uid,
		Name:     "peer-" + uid,
		AppID:    "app",
		Groups:   groups,
		Accesses: accesses,
	}
}

// countingLogger counts warnings.
type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Error(string, ...any) {}

func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *countingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}
