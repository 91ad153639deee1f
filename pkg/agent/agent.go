// Package agent wires the pipeline together: serial ingest feeds the
// transaction state machine, finalized transactions are persisted to the
// durable queue and bracketed with recorder events, and a single delivery
// worker drains the queue upstream. The agent owns component lifecycles and
// the graceful shutdown sequence.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/FFTY50/micromanager-pos-sub000/internal/identity"
	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
	"github.com/FFTY50/micromanager-pos-sub000/internal/telemetry"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/config"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/delivery"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/health"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/metrics"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/nvr"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/queue"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/serialport"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/txn"
)

// Agent is the assembled pipeline. Create it with New and run it with Serve;
// Serve blocks until the context is cancelled.
type Agent struct {
	cfg *config.Config

	deviceID string
	portPath string
	version  string

	identity txn.Identity

	// lineHeaders are the headers for the lines intake: the configured
	// headers plus the device identification headers.
	lineHeaders map[string]string
	batchLines  bool

	queue       *queue.Queue
	machine     *txn.Machine
	reader      *serialport.Reader
	worker      *delivery.Worker
	coordinator *nvr.Coordinator
	metrics     *metrics.AgentMetrics
	health      *health.Server

	// baseCtx is the serve context; callbacks on the ingest goroutine use it
	// for recorder and queue calls.
	baseCtx context.Context

	// videoWG tracks in-flight recorder Finish goroutines so shutdown can
	// wait for annotations to land.
	videoWG sync.WaitGroup

	serveOnce sync.Once
}

// New assembles an agent from configuration. It resolves the serial device
// and the device identity, and opens the durable queue; it does not touch
// the serial port or the network yet.
func New(cfg *config.Config, version string) (*Agent, error) {
	portPath, err := serialport.Detect(cfg.Serial.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve serial device: %w", err)
	}

	deviceID, err := identity.DeviceID(cfg.Device.IDOverride, portPath)
	if err != nil {
		return nil, fmt.Errorf("failed to derive device id: %w", err)
	}

	deviceName := cfg.Device.Name
	if deviceName == "" {
		deviceName = deviceID
	}

	q, err := queue.Open(queue.Config{
		Path:     cfg.Queue.Path,
		MaxBytes: cfg.Queue.MaxBytes,
		MaxAge:   cfg.Queue.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbound queue: %w", err)
	}

	m := metrics.NewAgentMetrics()

	a := &Agent{
		cfg:      cfg,
		deviceID: deviceID,
		portPath: portPath,
		version:  version,
		baseCtx:  context.Background(),
		identity: txn.Identity{
			DeviceID:   deviceID,
			DeviceName: deviceName,
			TerminalID: deviceID,
			StoreID:    cfg.Device.StoreID,
			DrawerID:   cfg.Device.DrawerID,
		},
		queue:       q,
		metrics:     m,
		lineHeaders: lineHeaders(cfg.Upstream.Headers, deviceID, deviceName),
		batchLines:  cfg.Upstream.BatchLines == nil || *cfg.Upstream.BatchLines,
		coordinator: nvr.NewCoordinator(nvr.Config{
			BaseURL:    cfg.NVR.BaseURL,
			Camera:     cfg.NVR.Camera,
			Label:      cfg.NVR.Label,
			Duration:   cfg.NVR.Duration,
			Retain:     cfg.NVR.Retain,
			RemoteRole: cfg.NVR.RemoteRole,
		}),
		worker: delivery.NewWorker(delivery.Config{
			RequestTimeout: cfg.Upstream.RequestTimeout,
		}, q, m),
	}

	a.machine = txn.NewMachine(txn.Callbacks{
		OnStart: a.onTxnStart,
		OnLine:  a.onTxnLine,
		OnEnd:   a.onTxnEnd,
	})

	a.reader = serialport.NewReader(serialport.Config{
		Path:           portPath,
		Baud:           cfg.Serial.Baud,
		ReconnectDelay: cfg.Serial.ReconnectDelay,
	}, a.machine.Feed)

	a.health = health.NewServer(health.Config{
		Host: cfg.Health.Host,
		Port: cfg.Health.Port,
	}, health.Vitals{
		DeviceID:      deviceID,
		SerialPort:    portPath,
		Version:       version,
		QueueDepth:    q.Depth,
		QueueInMemory: q.InMemory(),
	})

	return a, nil
}

// DeviceID returns the resolved device identifier.
func (a *Agent) DeviceID() string {
	return a.deviceID
}

// SerialPort returns the resolved serial device path.
func (a *Agent) SerialPort() string {
	return a.portPath
}

// Serve runs the pipeline until ctx is cancelled, then shuts down
// gracefully. It can only be called once.
func (a *Agent) Serve(ctx context.Context) error {
	var err error
	a.serveOnce.Do(func() {
		err = a.serve(ctx)
	})
	return err
}

func (a *Agent) serve(ctx context.Context) error {
	logger.Info("agent starting",
		logger.DeviceID(a.deviceID), logger.Port(a.portPath),
		"queue_in_memory", a.queue.InMemory(), "video", a.coordinator != nil)

	a.baseCtx = ctx

	// The serial reader gets its own cancellation so shutdown can stop
	// ingest first and still flush through the rest of the pipeline.
	serialCtx, stopSerial := context.WithCancel(ctx)
	defer stopSerial()

	healthErr := make(chan error, 1)
	go func() {
		if err := a.health.Start(ctx); err != nil {
			healthErr <- err
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = a.worker.Run(ctx)
	}()

	go a.evictionLoop(ctx)

	serialDone := make(chan struct{})
	go func() {
		defer close(serialDone)
		_ = a.reader.Run(serialCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-healthErr:
		logger.Error("health server failed, shutting down", logger.Err(err))
		serveErr = err
	}

	a.shutdown(stopSerial, serialDone, workerDone)

	logger.Info("agent stopped")
	return serveErr
}

// shutdown drains the pipeline in dependency order: stop ingest, finalize
// the in-flight transaction, wait for recorder annotations, flush the queue,
// then release the store.
func (a *Agent) shutdown(stopSerial context.CancelFunc, serialDone, workerDone <-chan struct{}) {
	deadline := time.Now().Add(a.cfg.ShutdownTimeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	stopSerial()
	select {
	case <-serialDone:
		// Callbacks fired by Flush run on this goroutine, and the ingest
		// goroutine has confirmed it stopped, so swapping the callback
		// context is safe here and nowhere earlier.
		a.baseCtx = ctx
		a.machine.Flush()
	case <-ctx.Done():
		logger.Warn("serial reader still running at shutdown deadline; skipping flush")
	}

	videoDone := make(chan struct{})
	go func() {
		a.videoWG.Wait()
		close(videoDone)
	}()
	select {
	case <-videoDone:
	case <-ctx.Done():
		logger.Warn("recorder annotations still pending at shutdown deadline")
	}

	select {
	case <-workerDone:
	case <-ctx.Done():
	}

	logger.Info("draining outbound queue before exit")
	a.worker.Drain(ctx)

	if depth, err := a.queue.Depth(ctx); err == nil && depth > 0 {
		logger.Warn("exiting with undelivered payloads; they remain queued on disk",
			logger.QueueDepth(depth))
	}

	if err := a.queue.Close(); err != nil {
		logger.Warn("queue close failed", logger.Err(err))
	}

	if err := a.health.Stop(ctx); err != nil {
		logger.Warn("health server stop failed", logger.Err(err))
	}
}

// evictionLoop enforces queue limits in the background, so limits hold even
// when nothing is being pushed.
func (a *Agent) evictionLoop(ctx context.Context) {
	interval := a.cfg.Queue.EvictionInterval
	if interval <= 0 {
		interval = time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			evicted, err := a.queue.EnforceLimits(ctx)
			if err != nil {
				logger.Warn("queue eviction failed", logger.Err(err))
				continue
			}
			if evicted > 0 {
				logger.Warn("queue evicted jobs to stay within limits", "evicted", evicted)
			}
			if depth, err := a.queue.Depth(ctx); err == nil {
				a.metrics.SetQueueDepth(depth)
			}
		}
	}
}

// onTxnStart brackets the new transaction with a recorder event. The create
// call happens on a background goroutine; ingest never waits for it.
func (a *Agent) onTxnStart(tx *txn.Transaction) {
	logger.Debug("transaction started", logger.TxnID(tx.ID))
	if ref := a.coordinator.Begin(a.baseCtx, tx.ID); ref != nil {
		tx.Video = ref
	}
}

func (a *Agent) onTxnLine(tx *txn.Transaction, ln *txn.Line) {
	a.metrics.RecordLine(ln.Parsed())
	if !ln.Parsed() {
		logger.Debug("unrecognized line",
			logger.TxnID(tx.ID), logger.Position(ln.Position), "raw", ln.Raw)
	}
}

// onTxnEnd persists both payloads of the finalized transaction and hands the
// recorder event off for annotation. Queueing failures are logged and the
// transaction is dropped; the queue's own fallback already absorbed the
// recoverable cases.
func (a *Agent) onTxnEnd(tx *txn.Transaction) {
	tranNo := ""
	if tx.Meta.HasHeader {
		tranNo = tx.Meta.TranNo
	}

	ctx, span := telemetry.StartTxnSpan(a.baseCtx, telemetry.SpanTxnComplete, tx.ID,
		telemetry.TxnNumber(tranNo), telemetry.LineCount(len(tx.Lines)))
	defer span.End()

	logger.Info("transaction completed",
		logger.TxnID(tx.ID), logger.TxnNumber(tranNo), "lines", len(tx.Lines))

	// Give the recorder create call a moment to settle so the payloads can
	// carry the event reference. Bounded: a dead recorder must not stall
	// ingest past this.
	if tx.Video != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		a.waitForEvent(waitCtx, tx)
		cancel()
	}

	records := txn.BuildLineRecords(tx, a.identity)
	if a.batchLines {
		a.enqueue(ctx, queue.TopicTransactionLines, a.cfg.Upstream.LinesURL,
			txn.LinesPayload{Lines: records}, a.lineHeaders, tx.ID)
	} else {
		for i := range records {
			a.enqueue(ctx, queue.TopicTransactionLine, a.cfg.Upstream.LinesURL,
				records[i], a.lineHeaders, tx.ID)
		}
	}
	a.enqueue(ctx, queue.TopicTransactions, a.cfg.Upstream.TransactionsURL,
		txn.BuildSummary(tx, a.identity), a.cfg.Upstream.Headers, tx.ID)

	if depth, err := a.queue.Depth(ctx); err == nil {
		a.metrics.SetQueueDepth(depth)
	}

	if a.coordinator != nil && tx.Video != nil {
		ref, ok := tx.Video.(*nvr.EventRef)
		if !ok {
			return
		}
		sum := nvr.Summary{
			TransactionNumber: tranNo,
			TotalAmount:       tx.TotalAmount(),
			ItemCount:         tx.ItemCount(),
		}
		a.videoWG.Add(1)
		go func() {
			defer a.videoWG.Done()
			finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.coordinator.Finish(finishCtx, ref, sum)
		}()
	}
}

func (a *Agent) waitForEvent(ctx context.Context, tx *txn.Transaction) {
	if ref, ok := tx.Video.(*nvr.EventRef); ok {
		ref.Wait(ctx)
	}
}

func (a *Agent) enqueue(ctx context.Context, topic, url string, payload any, headers map[string]string, txnID string) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode payload",
			logger.Topic(topic), logger.TxnID(txnID), logger.Err(err))
		return
	}
	if err := a.queue.Push(ctx, topic, url, body, headers); err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("failed to enqueue payload",
			logger.Topic(topic), logger.TxnID(txnID), logger.Err(err))
	}
}

// lineHeaders merges the configured intake headers with the device
// identification headers the lines endpoint expects.
func lineHeaders(configured map[string]string, deviceID, deviceName string) map[string]string {
	h := make(map[string]string, len(configured)+3)
	for k, v := range configured {
		h[k] = v
	}
	h["X-Device-ID"] = deviceID
	h["X-Device-Name"] = deviceName
	h["X-POS-Type"] = txn.PosType
	return h
}

// FeedLine injects one physical line into the pipeline, bypassing the serial
// reader. Used by tests and by the replay tooling.
func (a *Agent) FeedLine(line []byte) {
	a.machine.Feed(line)
}
