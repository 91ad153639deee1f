package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for pipeline operations.
// Keys are grouped by component: txn.* for the state machine, queue.* for
// the outbound queue, delivery.* for the intake POSTs, nvr.* for the video
// recorder.
const (
	// ========================================================================
	// Device attributes
	// ========================================================================
	AttrDeviceID   = "device.id"
	AttrSerialPort = "serial.port"

	// ========================================================================
	// Transaction attributes
	// ========================================================================
	AttrTxnID     = "txn.id"
	AttrTxnNumber = "txn.number"
	AttrLineType  = "txn.line_type"
	AttrLineCount = "txn.line_count"

	// ========================================================================
	// Queue and delivery attributes
	// ========================================================================
	AttrJobID      = "queue.job_id"
	AttrTopic      = "queue.topic"
	AttrQueueDepth = "queue.depth"
	AttrURL        = "delivery.url"
	AttrHTTPStatus = "delivery.status"
	AttrAttempt    = "delivery.attempt"

	// ========================================================================
	// NVR attributes
	// ========================================================================
	AttrEventID = "nvr.event_id"
	AttrCamera  = "nvr.camera"
)

// Span names for pipeline operations.
// Format: <component>.<operation>
const (
	SpanTxnStart    = "txn.start"
	SpanTxnLine     = "txn.line"
	SpanTxnComplete = "txn.complete"

	SpanQueuePush  = "queue.push"
	SpanQueueEvict = "queue.evict"

	SpanDeliveryPost = "delivery.post"

	SpanNVRCreate = "nvr.create"
	SpanNVRFinish = "nvr.finish"
)

// DeviceID returns an attribute for the agent device identifier
func DeviceID(id string) attribute.KeyValue {
	return attribute.String(AttrDeviceID, id)
}

// SerialPort returns an attribute for the serial device path
func SerialPort(path string) attribute.KeyValue {
	return attribute.String(AttrSerialPort, path)
}

// TxnID returns an attribute for a transaction UUID
func TxnID(id string) attribute.KeyValue {
	return attribute.String(AttrTxnID, id)
}

// TxnNumber returns an attribute for a receipt transaction number
func TxnNumber(num string) attribute.KeyValue {
	return attribute.String(AttrTxnNumber, num)
}

// LineType returns an attribute for a classified line type
func LineType(t string) attribute.KeyValue {
	return attribute.String(AttrLineType, t)
}

// LineCount returns an attribute for a transaction's line count
func LineCount(n int) attribute.KeyValue {
	return attribute.Int(AttrLineCount, n)
}

// JobID returns an attribute for an outbound queue job id
func JobID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrJobID, int64(id))
}

// Topic returns an attribute for a queue topic
func Topic(t string) attribute.KeyValue {
	return attribute.String(AttrTopic, t)
}

// QueueDepth returns an attribute for the pending job count
func QueueDepth(n int64) attribute.KeyValue {
	return attribute.Int64(AttrQueueDepth, n)
}

// DeliveryURL returns an attribute for the intake URL
func DeliveryURL(u string) attribute.KeyValue {
	return attribute.String(AttrURL, u)
}

// HTTPStatus returns an attribute for an HTTP status code
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}

// Attempt returns an attribute for a delivery attempt number
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// EventID returns an attribute for an NVR event identifier
func EventID(id string) attribute.KeyValue {
	return attribute.String(AttrEventID, id)
}

// Camera returns an attribute for an NVR camera name
func Camera(name string) attribute.KeyValue {
	return attribute.String(AttrCamera, name)
}

// StartTxnSpan starts a span for a transaction lifecycle operation.
func StartTxnSpan(ctx context.Context, name, txnID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{TxnID(txnID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartDeliverySpan starts a span for one intake POST attempt.
func StartDeliverySpan(ctx context.Context, topic string, jobID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{Topic(topic), JobID(jobID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, SpanDeliveryPost, trace.WithAttributes(allAttrs...))
}
