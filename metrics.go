package mqttclient

import (
	"strconv"
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics is the sink the client records through. Implementations must be
// safe for concurrent use and return the same series for equal name and
// labels.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(string, MetricLabels) Counter     { return noOpMetric{} }
func (NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return noOpMetric{} }
func (NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpMetric{} }

type noOpMetric struct{}

func (noOpMetric) Inc()            {}
func (noOpMetric) Dec()            {}
func (noOpMetric) Add(float64)     {}
func (noOpMetric) Set(float64)     {}
func (noOpMetric) Observe(float64) {}

// Metric names recorded by the client.
const (
	MetricConnected          = "mqtt_client_connected"
	MetricConnectionsTotal   = "mqtt_client_connections_total"
	MetricReconnectsTotal    = "mqtt_client_reconnects_total"
	MetricKeepAliveTimeouts  = "mqtt_client_keepalive_timeouts_total"
	MetricPacketsSent        = "mqtt_client_packets_sent_total"
	MetricPacketsReceived    = "mqtt_client_packets_received_total"
	MetricBytesSent          = "mqtt_client_bytes_sent_total"
	MetricBytesReceived      = "mqtt_client_bytes_received_total"
	MetricPublishesCompleted = "mqtt_client_publishes_completed_total"
	MetricPublishesFailed    = "mqtt_client_publishes_failed_total"
	MetricPublishLatency     = "mqtt_client_publish_latency_seconds"
	MetricMessagesDelivered  = "mqtt_client_messages_delivered_total"
	MetricInflight           = "mqtt_client_inflight"
)

// Metric labels.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
)

// ClientMetrics records the client's standard series on a Metrics sink.
// A nil *ClientMetrics records nothing.
type ClientMetrics struct {
	metrics Metrics
}

// NewClientMetrics wraps m. A nil m yields a recorder that discards.
func NewClientMetrics(m Metrics) *ClientMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &ClientMetrics{metrics: m}
}

func qosLabel(qos byte) MetricLabels {
	return MetricLabels{LabelQoS: strconv.Itoa(int(qos))}
}

// ConnectionOpened records a successful CONNACK.
func (c *ClientMetrics) ConnectionOpened() {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricConnected, nil).Set(1)
	c.metrics.Counter(MetricConnectionsTotal, nil).Inc()
}

// ConnectionClosed records the end of a connection.
func (c *ClientMetrics) ConnectionClosed() {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricConnected, nil).Set(0)
}

// Reconnect records an automatic reconnect attempt.
func (c *ClientMetrics) Reconnect() {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricReconnectsTotal, nil).Inc()
}

// KeepAliveTimeout records a connection dropped for a missing PINGRESP.
func (c *ClientMetrics) KeepAliveTimeout() {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricKeepAliveTimeouts, nil).Inc()
}

// PacketSent records an encoded packet of n bytes handed to the writer.
func (c *ClientMetrics) PacketSent(t PacketType, n int) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Inc()
	c.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

// PacketReceived records a decoded packet of n bytes.
func (c *ClientMetrics) PacketReceived(t PacketType, n int) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: t.String()}).Inc()
	c.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

// PublishCompleted records an outgoing publish that finished successfully
// after d. QoS 0 publishes pass a zero duration and skip the histogram.
func (c *ClientMetrics) PublishCompleted(qos byte, d time.Duration) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricPublishesCompleted, qosLabel(qos)).Inc()
	if qos > QoS0 {
		c.metrics.Histogram(MetricPublishLatency, qosLabel(qos)).Observe(d.Seconds())
	}
}

// PublishFailed records an outgoing publish that ended with an error.
func (c *ClientMetrics) PublishFailed(qos byte) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricPublishesFailed, qosLabel(qos)).Inc()
}

// MessageDelivered records an incoming application message handed to the
// dispatcher.
func (c *ClientMetrics) MessageDelivered(qos byte) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricMessagesDelivered, qosLabel(qos)).Inc()
}

// Inflight records the number of outgoing QoS 1 and QoS 2 flows.
func (c *ClientMetrics) Inflight(n int) {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricInflight, nil).Set(float64(n))
}
