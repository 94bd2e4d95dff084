// Package mqttclient provides an MQTT 3.1.1 and 5.0 client.
//
// It implements the client side of the OASIS standards:
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/mqtt-v5.0.html and
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - Codec for every control packet of both protocol levels
//   - QoS 0, 1 and 2 in both directions, resumed across reconnects
//   - Pluggable FlowStore for flows that must survive a restart
//   - Keep alive, automatic reconnect with backoff
//   - Enhanced authentication, with SCRAM-SHA-256 and SCRAM-SHA-512
//   - Transports: TCP, TLS, WebSocket, Unix socket, QUIC, HTTP and SOCKS5 proxies
//
// # Client
//
//	client, err := mqttclient.New(
//	    mqttclient.WithServers("tcp://localhost:1883"),
//	    mqttclient.WithClientID("sensor-1"),
//	    mqttclient.WithAutoReconnect(true),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Operations return tokens that complete when the server answers:
//
//	token := client.Subscribe(ctx, func(m *mqttclient.Message) {
//	    fmt.Printf("%s: %s\n", m.Topic, m.Payload)
//	}, mqttclient.Subscription{TopicFilter: "sensors/+/temp", QoS: 1})
//	if err := token.Wait(ctx); err != nil {
//	    return err
//	}
//
//	err = client.Publish(ctx, &mqttclient.Message{
//	    Topic:   "sensors/1/temp",
//	    Payload: []byte("21.5"),
//	    QoS:     1,
//	}).Wait(ctx)
//
// Handlers run one message at a time on a goroutine separate from the
// connection. With WithManualAck, PUBACK and PUBREC are sent only when the
// handler calls Message.Ack.
//
// # Events
//
// Lifecycle changes are reported through WithOnEvent as error values:
//
//	mqttclient.WithOnEvent(func(c *mqttclient.Client, ev error) {
//	    var lost *mqttclient.ConnectionLostError
//	    switch {
//	    case errors.Is(ev, mqttclient.ErrConnected):
//	        log.Println("connected")
//	    case errors.As(ev, &lost):
//	        log.Printf("lost (%s): %v", lost.Source, lost)
//	    case errors.Is(ev, mqttclient.ErrConnectionFailed):
//	        log.Printf("attempt failed: %v", ev)
//	    }
//	})
//
// Every failed attempt, including those made by the reconnect loop, is
// reported as a *ConnectError.
//
// # Servers
//
// Server URLs select the transport by scheme:
//
//	tcp://host:1883, mqtt://host
//	tls://host:8883, ssl://host, mqtts://host
//	ws://host/mqtt, wss://host/mqtt
//	unix:///var/run/mqtt.sock
//	quic://host:14567
//
// # Codec
//
// Packets can be used without a Client:
//
//	pkt, n, err := mqttclient.ReadPacket(conn, mqttclient.ProtocolV5, maxPacketSize)
//	n, err = mqttclient.WritePacket(conn, pkt, mqttclient.ProtocolV5, 0)
package mqttclient
