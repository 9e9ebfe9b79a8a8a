package mqtt

import (
	"strings"
	"testing"
)

func TestTopics_For(t *testing.T) {
	tests := []struct {
		name     string
		topics   Topics
		appID    string
		category Category
		key      string
		want     string
	}{
		{"unicast", Topics{}, "sensors", CategoryUID, "A1B2", "cohorte/herald/sensors/uid/A1B2"},
		{"group", Topics{}, "sensors", CategoryGroup, "all", "cohorte/herald/sensors/group/all"},
		{"liveness ignores key", Topics{}, "sensors", CategoryLiveness, "ignored", "cohorte/herald/sensors/rip"},
		{"custom prefix", Topics{Prefix: "site/herald/"}, "app", CategoryUID, "X", "site/herald/app/uid/X"},
		{"separator-only prefix", Topics{Prefix: "/"}, "app", CategoryUID, "X", "cohorte/herald/app/uid/X"},
		{"repeated separators", Topics{Prefix: "site//"}, "app", CategoryLiveness, "", "site/app/rip"},
		{"separator escaped", Topics{}, "a/b", CategoryUID, "c", "cohorte/herald/a%2Fb/uid/c"},
		{"wildcards escaped", Topics{}, "app", CategoryGroup, "+#", "cohorte/herald/app/group/%2B%23"},
		{"percent escaped", Topics{}, "app", CategoryUID, "50%", "cohorte/herald/app/uid/50%25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.topics.For(tt.appID, tt.category, tt.key); got != tt.want {
				t.Errorf("For() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopics_Deterministic(t *testing.T) {
	a := TopicFor("app", CategoryUID, "peer")
	b := TopicFor("app", CategoryUID, "peer")
	if a != b {
		t.Errorf("TopicFor() not deterministic: %q != %q", a, b)
	}
}

func TestTopics_Injective(t *testing.T) {
	inputs := []struct {
		app string
		cat Category
		key string
	}{
		{"a", CategoryUID, "b/c"},
		{"a/b", CategoryUID, "c"},
		{"a", CategoryGroup, "b"},
		{"a", CategoryUID, "b"},
		{"b", CategoryUID, "a"},
		{"a", CategoryLiveness, ""},
		{"a", CategoryUID, ""},
		{"a", CategoryUID, "%2F"},
		{"a", CategoryUID, "/"},
		{"", CategoryUID, "a"},
	}

	seen := make(map[string]int)
	for i, in := range inputs {
		topic := TopicFor(in.app, in.cat, in.key)
		if j, dup := seen[topic]; dup {
			t.Fatalf("inputs %d and %d both map to %q", j, i, topic)
		}
		seen[topic] = i
	}
}

func TestTopics_NoWildcardsInGeneratedNames(t *testing.T) {
	topic := TopicFor("#app+", CategoryGroup, "g+#")
	if strings.ContainsAny(topic, "+#") {
		t.Errorf("TopicFor() = %q contains wildcard characters", topic)
	}
}

func TestTopics_Helpers(t *testing.T) {
	topics := Topics{}

	if got := topics.Peer("app", "P1"); got != topics.For("app", CategoryUID, "P1") {
		t.Errorf("Peer() = %q", got)
	}
	if got := topics.Group("app", "g"); got != topics.For("app", CategoryGroup, "g") {
		t.Errorf("Group() = %q", got)
	}
	if got := topics.Liveness("app"); got != "cohorte/herald/app/rip" {
		t.Errorf("Liveness() = %q", got)
	}
}

func TestTopics_Parse(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		app string
		cat Category
		key string
	}{
		{"sensors", CategoryUID, "A1B2"},
		{"a/b", CategoryGroup, "c+d#e%"},
		{"app", CategoryLiveness, ""},
	}

	for _, tt := range tests {
		app, cat, key, ok := topics.Parse(topics.For(tt.app, tt.cat, tt.key))
		if !ok {
			t.Fatalf("Parse(For(%q, %q, %q)) not ok", tt.app, tt.cat, tt.key)
		}
		if app != tt.app || cat != tt.cat || key != tt.key {
			t.Errorf("Parse() = (%q, %q, %q), want (%q, %q, %q)", app, cat, key, tt.app, tt.cat, tt.key)
		}
	}

	for _, bad := range []string{"other/prefix/app/uid/x", "cohorte/herald/app", "cohorte/herald/app/uid", "cohorte/herald/app/rip/x", "cohorte/herald/a/uid/b/c"} {
		if _, _, _, ok := topics.Parse(bad); ok {
			t.Errorf("Parse(%q) ok, want not ok", bad)
		}
	}
}

func TestCategory_Valid(t *testing.T) {
	for _, c := range []Category{CategoryUID, CategoryGroup, CategoryLiveness} {
		if !c.Valid() {
			t.Errorf("%q.Valid() = false", c)
		}
	}
	if Category("other").Valid() {
		t.Error(`"other".Valid() = true`)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		tls  bool
		want string
	}{
		{"localhost", 1883, false, "tcp://localhost:1883"},
		{"broker", 8883, true, "ssl://broker:8883"},
		{"broker", 0, false, "tcp://broker"},
	}

	for _, tt := range tests {
		if got := BrokerURL(tt.host, tt.port, tt.tls); got != tt.want {
			t.Errorf("BrokerURL(%q, %d, %v) = %q, want %q", tt.host, tt.port, tt.tls, got, tt.want)
		}
	}
}

func TestConnectOptions_BrokerURLDefaultsPort(t *testing.T) {
	if got := (ConnectOptions{Host: "h"}).brokerURL(); got != "tcp://h:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	if got := (ConnectOptions{Host: "h", TLS: true}).brokerURL(); got != "ssl://h:8883" {
		t.Errorf("brokerURL() = %q", got)
	}
}
