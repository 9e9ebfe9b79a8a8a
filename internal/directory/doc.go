// Package directory implements the peer directory: the local peer, the
// remote peers of the same application, and their transport accesses.
//
// The Directory keeps peers in memory and, given a Repository, persists
// them (SQLiteRepository stores them in the peers and peer_accesses
// tables). Transports register a herald.TransportDirectory to follow the
// accesses of their type.
//
// The Handshake is the directory's herald.Core: it exchanges descriptions
// with the newcomer, welcome and bye subjects, and passes every other
// message on.
//
// Usage:
//
//	dir := directory.New(local, directory.NewSQLiteRepository(db.DB))
//	hs := directory.NewHandshake(dir, appCore)
//	tr, _ := transport.New(transport.Options{Directory: dir, Core: hs, ...})
//	hs.SetSender(tr)
//	dir.RegisterTransport(tr.Directory())
//	_ = dir.Load(ctx)
package directory
