// Package mqtt provides the broker session, subscription routing and topic
// naming used by the Herald MQTT transport.
//
// This package manages:
//   - One broker session per Client, with an optional last will
//   - Automatic reconnect of an established session (the first attempt is never retried)
//   - A subscription registry mapping exact topics to a single listener
//   - A bounded inbound queue drained by one dispatch goroutine per session
//   - Herald topic naming (Topics)
//
// # Topics
//
// Every Herald topic is built from the application ID, a category and a key:
//
//	cohorte/herald/<app>/uid/<peer uid>     unicast
//	cohorte/herald/<app>/group/<group>      multicast
//	cohorte/herald/<app>/rip                last wills of the application
//
// Remote peers compute these names on their own. Changing the scheme
// breaks interoperability.
//
// # Delivery
//
// Inbound messages are routed by exact topic. Each session dispatches from a
// single goroutine, so listeners observe messages in arrival order and never
// run concurrently with each other. A message on a topic without a listener
// is logged and dropped. When the inbound queue is full, new messages are
// dropped rather than blocking the network loop.
//
// # Usage
//
//	client := mqtt.NewClient(mqtt.WithQoS(1), mqtt.WithLogger(logger))
//	err := client.Connect(mqtt.ConnectOptions{
//	    Host:     "localhost",
//	    Port:     1883,
//	    ClientID: "herald-A1B2",
//	    Will:     &mqtt.Will{Topic: mqtt.Topics{}.Liveness("sensors"), Payload: []byte("A1B2"), QoS: 1},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	err = client.Subscribe(mqtt.Topics{}.Peer("sensors", "A1B2"),
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
// The mqtttest sub-package provides an in-memory broker for tests.
package mqtt
