package mqttclient

// Authenticator runs the client side of MQTT 5.0 enhanced authentication.
//
// Method and InitialData fill the Authentication Method and Data of
// CONNECT. Each AUTH with reason Continue Authentication from the server
// is passed to Continue, and its result is sent back in an AUTH packet.
// When the final CONNACK or a re-authentication AUTH Success carries
// authentication data, Continue is called once more so the method can
// verify the server; its returned data is ignored and an error fails the
// connection.
//
// An Authenticator is used by one handshake at a time.
type Authenticator interface {
	Method() string
	InitialData() ([]byte, error)
	Continue(data []byte) ([]byte, error)
}
