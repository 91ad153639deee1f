package serialport

import (
	"bytes"
	"context"
	"time"

	"go.bug.st/serial"

	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
)

// Config describes the printer tap.
type Config struct {
	// Path is the device node, e.g. /dev/ttyUSB0.
	Path string

	// Baud is the line rate. The Commander printer port runs 9600 8N1.
	Baud int

	// ReconnectDelay is the wait between open attempts after a failure.
	ReconnectDelay time.Duration

	// ReadTimeout bounds each read so the loop can notice cancellation.
	ReadTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Baud <= 0 {
		c.Baud = 9600
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Second
	}
}

// LineHandler receives one physical line with its trailing CR/LF stripped.
// The byte slice is only valid for the duration of the call.
type LineHandler func(line []byte)

// openPort is swapped out in tests.
var openPort = func(path string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(path, mode)
}

// Reader owns the serial device and turns its byte stream into lines.
type Reader struct {
	cfg     Config
	handler LineHandler

	buf []byte
}

// NewReader creates a reader that invokes handler for every reassembled
// line.
func NewReader(cfg Config, handler LineHandler) *Reader {
	cfg.applyDefaults()
	return &Reader{cfg: cfg, handler: handler}
}

// Run reads the device until ctx is cancelled, reopening it after every
// failure. A missing or disappearing device is an operational condition,
// not an error, so Run only returns on cancellation.
func (r *Reader) Run(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: r.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		port, err := openPort(r.cfg.Path, mode)
		if err != nil {
			logger.Warn("failed to open serial device, retrying",
				logger.Port(r.cfg.Path), "retry_in", r.cfg.ReconnectDelay, logger.Err(err))
			if !sleep(ctx, r.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		logger.Info("serial device opened", logger.Port(r.cfg.Path), logger.Baud(r.cfg.Baud))
		err = r.readLoop(ctx, port)
		_ = port.Close()
		if ctx.Err() != nil {
			return nil
		}

		logger.Warn("serial device lost, reconnecting",
			logger.Port(r.cfg.Path), "retry_in", r.cfg.ReconnectDelay, logger.Err(err))
		if !sleep(ctx, r.cfg.ReconnectDelay) {
			return nil
		}
	}
}

// readLoop pulls chunks off the port until a read error or cancellation.
// Partial lines are carried in r.buf across reads and across reconnects;
// the printer resumes mid-receipt after a cable wiggle and the fragment is
// still the head of a real line.
func (r *Reader) readLoop(ctx context.Context, port serial.Port) error {
	if err := port.SetReadTimeout(r.cfg.ReadTimeout); err != nil {
		return err
	}

	chunk := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(chunk)
		if err != nil {
			return err
		}
		if n == 0 {
			// Read timeout; loop to check for cancellation.
			continue
		}
		r.feed(chunk[:n])
	}
}

// feed appends a chunk to the carry buffer and emits every complete line.
func (r *Reader) feed(chunk []byte) {
	r.buf = append(r.buf, chunk...)
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			return
		}
		line := r.buf[:i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if r.handler != nil {
			r.handler(line)
		}
		r.buf = r.buf[i+1:]
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
