package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs from the
// serial, delivery, and NVR tasks can be correlated downstream.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Device & Serial
	// ========================================================================
	KeyDeviceID   = "device_id"   // Agent device identifier (mmd-rv1-...)
	KeyDeviceName = "device_name" // Human-readable device name
	KeyPort       = "port"        // Serial device path (/dev/ttyUSB0)
	KeyBaud       = "baud"        // Serial baud rate

	// ========================================================================
	// Transaction pipeline
	// ========================================================================
	KeyTxnID     = "txn_id"     // Per-transaction UUID
	KeyTxnNumber = "txn_number" // Receipt TRAN# when known
	KeyLineType  = "line_type"  // Classified line type
	KeyPosition  = "position"   // Line position within transaction
	KeyStoreID   = "store_id"   // Receipt ST#
	KeyDrawerID  = "drawer_id"  // Receipt DR#
	KeyCashier   = "cashier"    // Receipt CSH: name

	// ========================================================================
	// Queue & Delivery
	// ========================================================================
	KeyJobID      = "job_id"      // Outbound queue job id
	KeyTopic      = "topic"       // Job topic (transaction_line[s], transactions)
	KeyURL        = "url"         // Destination URL
	KeyAttempt    = "attempt"     // Delivery attempt number
	KeyStatus     = "status"      // HTTP status code
	KeyQueueDepth = "queue_depth" // Pending job count
	KeyEvicted    = "evicted"     // Jobs removed by eviction

	// ========================================================================
	// NVR events
	// ========================================================================
	KeyEventID = "event_id" // NVR event identifier
	KeyCamera  = "camera"   // NVR camera name
	KeyLabel   = "label"    // NVR event label

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// DeviceID returns a slog.Attr for the agent device identifier
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// Port returns a slog.Attr for a serial device path
func Port(path string) slog.Attr {
	return slog.String(KeyPort, path)
}

// Baud returns a slog.Attr for a serial baud rate
func Baud(rate int) slog.Attr {
	return slog.Int(KeyBaud, rate)
}

// TxnID returns a slog.Attr for a transaction UUID
func TxnID(id string) slog.Attr {
	return slog.String(KeyTxnID, id)
}

// TxnNumber returns a slog.Attr for a receipt transaction number
func TxnNumber(num string) slog.Attr {
	return slog.String(KeyTxnNumber, num)
}

// LineType returns a slog.Attr for a classified line type
func LineType(t string) slog.Attr {
	return slog.String(KeyLineType, t)
}

// Position returns a slog.Attr for a line position
func Position(pos int) slog.Attr {
	return slog.Int(KeyPosition, pos)
}

// JobID returns a slog.Attr for an outbound queue job id
func JobID(id uint64) slog.Attr {
	return slog.Uint64(KeyJobID, id)
}

// Topic returns a slog.Attr for a queue topic
func Topic(t string) slog.Attr {
	return slog.String(KeyTopic, t)
}

// URL returns a slog.Attr for a destination URL
func URL(u string) slog.Attr {
	return slog.String(KeyURL, u)
}

// Attempt returns a slog.Attr for a delivery attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Status returns a slog.Attr for an HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// QueueDepth returns a slog.Attr for the pending job count
func QueueDepth(n int64) slog.Attr {
	return slog.Int64(KeyQueueDepth, n)
}

// EventID returns a slog.Attr for an NVR event identifier
func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

// Camera returns a slog.Attr for an NVR camera name
func Camera(name string) slog.Attr {
	return slog.String(KeyCamera, name)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
