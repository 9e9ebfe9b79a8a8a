// Package transport implements the Herald MQTT transport.
//
// The transport resolves peer addresses (Resolve), encodes messages into
// envelopes (Encode, Decode), publishes and listens on Herald topics
// (Messenger) and ties these to the bus (Transport): firing messages at
// peers and groups, answering on the path a message arrived on, learning
// addresses through the peer directory (Directory) and reporting peers
// whose broker session ended uncleanly (OnPeerLost).
//
// # Addressing
//
// A destination is resolved field by field. Extra data attached to a call
// wins over the peer's stored mqtt access; a missing client ID is
// generated; a missing host or topic is an *herald.InvalidPeerAccessError.
//
// # Liveness
//
// Every transport registers a last will on <prefix>/<app>/rip carrying its
// peer UID and listens on the same topic. When a peer disappears without
// disconnecting, the broker publishes its will and every other peer drops
// that peer's mqtt access.
//
// # Usage
//
//	t, err := transport.New(transport.Options{
//	    Config:    cfg.MQTT,
//	    Directory: dir,
//	    Core:      handshake,
//	    Logger:    logger.Component("transport"),
//	})
//	if err != nil {
//	    return err
//	}
//	dir.RegisterTransport(t.Directory())
//	if err := t.Start(ctx); err != nil {
//	    return err
//	}
//	defer t.Stop()
//
//	err = t.Fire(peer, herald.NewMessage("sensors/reading", reading), nil)
package transport
