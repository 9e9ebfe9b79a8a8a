package mqtt

import "strings"

// DefaultTopicPrefix is the root shared by every Herald topic.
// Remote peers compute topic names independently, so this value is part of
// the wire contract and must not change without a compatibility plan.
const DefaultTopicPrefix = "cohorte/herald"

// Category partitions Herald traffic below an application.
type Category string

// Topic categories. The wire names match what deployed Herald peers expect.
const (
	// CategoryUID carries unicast traffic addressed to a single peer.
	CategoryUID Category = "uid"

	// CategoryGroup carries multicast traffic addressed to a peer group.
	CategoryGroup Category = "group"

	// CategoryLiveness carries last-will notices ("rest in peace") of
	// peers that dropped off the broker uncleanly. One topic per application.
	CategoryLiveness Category = "rip"
)

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryUID, CategoryGroup, CategoryLiveness:
		return true
	default:
		return false
	}
}

// segmentEscaper makes application IDs and keys safe to embed as a single
// topic level. "%" is escaped first so the mapping stays reversible.
var (
	segmentEscaper = strings.NewReplacer(
		"%", "%25",
		"/", "%2F",
		"+", "%2B",
		"#", "%23",
	)
	segmentUnescaper = strings.NewReplacer(
		"%2F", "/",
		"%2B", "+",
		"%23", "#",
		"%25", "%",
	)
)

// Topics builds Herald topic names.
//
// Names have the form <prefix>/<appID>/<category>/<key>. The liveness
// category has no key: <prefix>/<appID>/rip.
//
// The zero value uses DefaultTopicPrefix:
//
//	topics := mqtt.Topics{}
//	topics.Peer("sensors", "A1B2")
//	// Returns: "cohorte/herald/sensors/uid/A1B2"
type Topics struct {
	Prefix string
}

// TopicFor is Topics{}.For with the default prefix.
func TopicFor(appID string, category Category, key string) string {
	return Topics{}.For(appID, category, key)
}

// prefix returns Prefix without trailing separators. A prefix that is
// empty once trimmed selects DefaultTopicPrefix, so topics never start
// with an empty level.
func (t Topics) prefix() string {
	p := strings.TrimRight(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// For returns the topic for (appID, category, key).
//
// The result is a pure function of its inputs. Each component occupies
// exactly one topic level (separators and wildcards are percent-escaped),
// so distinct inputs never collide. key is ignored for CategoryLiveness.
func (t Topics) For(appID string, category Category, key string) string {
	var b strings.Builder
	b.WriteString(t.prefix())
	b.WriteByte('/')
	b.WriteString(segmentEscaper.Replace(appID))
	b.WriteByte('/')
	b.WriteString(segmentEscaper.Replace(string(category)))

	if category != CategoryLiveness {
		b.WriteByte('/')
		b.WriteString(segmentEscaper.Replace(key))
	}

	return b.String()
}

// Peer returns the unicast topic of a peer.
//
// Example: cohorte/herald/sensors/uid/A1B2
func (t Topics) Peer(appID, peerUID string) string {
	return t.For(appID, CategoryUID, peerUID)
}

// Group returns the multicast topic of a group.
//
// Example: cohorte/herald/sensors/group/all
func (t Topics) Group(appID, group string) string {
	return t.For(appID, CategoryGroup, group)
}

// Liveness returns the last-will topic of an application.
//
// Example: cohorte/herald/sensors/rip
func (t Topics) Liveness(appID string) string {
	return t.For(appID, CategoryLiveness, "")
}

// Parse splits a topic built by For back into its components.
// ok is false when the topic does not belong to this prefix or has an
// unexpected shape.
func (t Topics) Parse(topic string) (appID string, category Category, key string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return "", "", "", false
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 2:
		category = Category(segmentUnescaper.Replace(parts[1]))
		if category != CategoryLiveness {
			return "", "", "", false
		}
	case 3:
		category = Category(segmentUnescaper.Replace(parts[1]))
		if category == CategoryLiveness {
			return "", "", "", false
		}
		key = segmentUnescaper.Replace(parts[2])
	default:
		return "", "", "", false
	}

	return segmentUnescaper.Replace(parts[0]), category, key, true
}
