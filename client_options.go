package mqttclient

import (
	"context"
	"crypto/tls"
	"time"

	"golang.org/x/time/rate"
)

// Packet size limits.
const (
	// MaxPacketSizeDefault is the default limit on packets accepted from the
	// server.
	MaxPacketSizeDefault uint32 = 4 * 1024 * 1024

	// MaxPacketSizeProtocol is the largest packet MQTT can express: a
	// 268435455 byte remaining length plus a 5 byte fixed header.
	MaxPacketSizeProtocol uint32 = 268435460
)

// BackoffStrategy computes the delay before a reconnect attempt. It receives
// the 1-based attempt number, the previous delay and the error that ended
// the last attempt.
type BackoffStrategy func(attempt int, current time.Duration, err error) time.Duration

// ServerResolver returns the server URLs to try, for example from DNS SRV
// records. It is called before each connection attempt. On error or an
// empty result the static servers are used.
type ServerResolver func(ctx context.Context) ([]string, error)

// clientOptions holds configuration for a Client. It is not modified after
// New returns.
type clientOptions struct {
	servers        []string
	serverResolver ServerResolver

	clientID        string
	username        string
	password        []byte
	keepAlive       uint16
	cleanStart      bool
	protocolVersion ProtocolVersion

	sessionExpiryInterval uint32
	receiveMaximum        uint16
	maxPacketSize         uint32
	topicAliasMaximum     uint16
	userProperties        []StringPair

	will *Will

	connectTimeout   time.Duration
	writeTimeout     time.Duration
	pingMargin       time.Duration
	pingRespRequired bool

	manualAck      bool
	maxInflight    int64
	publishRate    rate.Limit
	publishBurst   int
	mailboxSize    int
	outboundBuffer int

	autoReconnect    bool
	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy

	onEvent        EventHandler
	defaultHandler MessageHandler

	producerInterceptors []ProducerInterceptor
	consumerInterceptors []ConsumerInterceptor

	logger    Logger
	metrics   Metrics
	flowStore FlowStore

	dialer        Dialer
	tlsConfig     *tls.Config
	proxyURL      string
	authenticator Authenticator
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:        60,
		cleanStart:       true,
		protocolVersion:  ProtocolV5,
		receiveMaximum:   65535,
		maxPacketSize:    MaxPacketSizeDefault,
		connectTimeout:   10 * time.Second,
		writeTimeout:     5 * time.Second,
		pingMargin:       defaultPingSafetyMargin,
		pingRespRequired: true,
		maxInflight:      65535,
		publishRate:      rate.Inf,
		mailboxSize:      256,
		outboundBuffer:   256,
		maxReconnects:    -1,
		reconnectBackoff: time.Second,
		maxBackoff:       60 * time.Second,
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithServers adds server URLs such as tcp://broker:1883 or
// wss://broker/mqtt. Servers are tried round-robin on each connection
// attempt. Multiple calls append.
func WithServers(servers ...string) Option {
	return func(o *clientOptions) {
		o.servers = append(o.servers, servers...)
	}
}

// WithServerResolver sets a dynamic server source consulted before each
// connection attempt.
func WithServerResolver(resolver ServerResolver) Option {
	return func(o *clientOptions) {
		o.serverResolver = resolver
	}
}

// WithClientID sets the client identifier. When empty, MQTT 5.0 clients let
// the server assign one and MQTT 3.1.1 clients generate a random one.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the user name and password sent in CONNECT.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep alive interval in seconds. Zero disables
// keep alive. A Server Keep Alive in CONNACK overrides it.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanStart sets whether the server discards any existing session.
func WithCleanStart(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanStart = clean
	}
}

// WithProtocolVersion selects MQTT 3.1.1 (ProtocolV311) or 5.0 (ProtocolV5).
func WithProtocolVersion(v ProtocolVersion) Option {
	return func(o *clientOptions) {
		o.protocolVersion = v
	}
}

// WithSessionExpiryInterval sets how long, in seconds, the server keeps the
// session after the connection ends. MQTT 5.0 only.
func WithSessionExpiryInterval(seconds uint32) Option {
	return func(o *clientOptions) {
		o.sessionExpiryInterval = seconds
	}
}

// WithReceiveMaximum limits how many QoS 1 and 2 messages from the server
// may be unacknowledged at once. Zero is treated as 65535.
func WithReceiveMaximum(n uint16) Option {
	return func(o *clientOptions) {
		if n == 0 {
			n = 65535
		}
		o.receiveMaximum = n
	}
}

// WithMaxPacketSize limits packets accepted from the server. Values above
// MaxPacketSizeProtocol are clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		if size > MaxPacketSizeProtocol || size == 0 {
			size = MaxPacketSizeProtocol
		}
		o.maxPacketSize = size
	}
}

// WithTopicAliasMaximum sets how many inbound topic aliases the client
// accepts. Zero disables inbound aliases.
func WithTopicAliasMaximum(n uint16) Option {
	return func(o *clientOptions) {
		o.topicAliasMaximum = n
	}
}

// WithUserProperties adds user properties to CONNECT.
func WithUserProperties(props map[string]string) Option {
	return func(o *clientOptions) {
		for k, v := range props {
			o.userProperties = append(o.userProperties, StringPair{Key: k, Value: v})
		}
	}
}

// WithWill sets the message the server publishes if the client disappears.
func WithWill(topic string, payload []byte, retain bool, qos byte) Option {
	return func(o *clientOptions) {
		if o.will == nil {
			o.will = &Will{}
		}
		o.will.Topic = topic
		o.will.Payload = payload
		o.will.Retain = retain
		o.will.QoS = qos
	}
}

// WithWillProps sets the Will properties, such as the will delay interval.
func WithWillProps(props Properties) Option {
	return func(o *clientOptions) {
		if o.will == nil {
			o.will = &Will{}
		}
		o.will.Props = props
	}
}

// WithConnectTimeout bounds the whole handshake, dial through CONNACK.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithWriteTimeout bounds each socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithPingSafetyMargin sets how long before the keep alive interval a
// PINGREQ is sent. Defaults to 100ms.
func WithPingSafetyMargin(d time.Duration) Option {
	return func(o *clientOptions) {
		o.pingMargin = d
	}
}

// WithPingRespRequired sets whether only a PINGRESP satisfies the keep
// alive deadline. When false any inbound packet does.
func WithPingRespRequired(required bool) Option {
	return func(o *clientOptions) {
		o.pingRespRequired = required
	}
}

// WithManualAck defers PUBACK and PUBREC until Message.Ack is called.
func WithManualAck(manual bool) Option {
	return func(o *clientOptions) {
		o.manualAck = manual
	}
}

// WithMaxInflight bounds the QoS 1 and 2 publishes accepted but not yet
// completed. Publish blocks while the bound is reached.
func WithMaxInflight(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxInflight = int64(n)
		}
	}
}

// WithPublishRateLimit throttles Publish to r messages per second with the
// given burst.
func WithPublishRateLimit(r rate.Limit, burst int) Option {
	return func(o *clientOptions) {
		o.publishRate = r
		o.publishBurst = burst
	}
}

// WithAutoReconnect enables automatic reconnection after a lost connection.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enabled
	}
}

// WithMaxReconnects caps consecutive reconnect attempts. Use -1, the
// default, for no cap.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = n
	}
}

// WithReconnectBackoff sets the first and the largest reconnect delay. The
// delay doubles after each failed attempt.
func WithReconnectBackoff(initial, maximum time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectBackoff = initial
		o.maxBackoff = maximum
	}
}

// WithBackoffStrategy replaces the doubling reconnect delay.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) {
		o.backoffStrategy = strategy
	}
}

// WithOnEvent sets the handler for lifecycle events.
func WithOnEvent(handler EventHandler) Option {
	return func(o *clientOptions) {
		o.onEvent = handler
	}
}

// WithDefaultHandler receives messages that match no subscription, such as
// messages for a session restored by the server.
func WithDefaultHandler(handler MessageHandler) Option {
	return func(o *clientOptions) {
		o.defaultHandler = handler
	}
}

// WithProducerInterceptors appends interceptors applied to outgoing
// messages in the given order.
func WithProducerInterceptors(interceptors ...ProducerInterceptor) Option {
	return func(o *clientOptions) {
		o.producerInterceptors = append(o.producerInterceptors, interceptors...)
	}
}

// WithConsumerInterceptors appends interceptors applied to received
// messages in the given order.
func WithConsumerInterceptors(interceptors ...ConsumerInterceptor) Option {
	return func(o *clientOptions) {
		o.consumerInterceptors = append(o.consumerInterceptors, interceptors...)
	}
}

// WithLogger sets the logger. Defaults to NoOpLogger.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink. Defaults to NoOpMetrics.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithFlowStore sets where QoS 1 and 2 flows are persisted. Defaults to a
// MemoryFlowStore, which survives reconnects but not restarts.
func WithFlowStore(store FlowStore) Option {
	return func(o *clientOptions) {
		o.flowStore = store
	}
}

// WithDialer replaces scheme-based dialing. The server URL is passed to the
// dialer unchanged.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// WithTLSConfig sets the TLS configuration for tls, ssl, mqtts, wss and
// quic servers.
func WithTLSConfig(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithProxy routes connections through an http, https or socks5 proxy URL.
func WithProxy(proxyURL string) Option {
	return func(o *clientOptions) {
		o.proxyURL = proxyURL
	}
}

// WithAuthenticator enables MQTT 5.0 enhanced authentication.
func WithAuthenticator(auth Authenticator) Option {
	return func(o *clientOptions) {
		o.authenticator = auth
	}
}

func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	if options.logger == nil {
		options.logger = NewNoOpLogger()
	}
	if options.metrics == nil {
		options.metrics = NoOpMetrics{}
	}
	if options.flowStore == nil {
		options.flowStore = NewMemoryFlowStore()
	}
	return options
}
