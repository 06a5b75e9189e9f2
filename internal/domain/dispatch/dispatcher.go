package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/iyacare/iyacare/internal/platform/events"
	"github.com/iyacare/iyacare/internal/platform/metrics"
	"github.com/iyacare/iyacare/internal/platform/retry"
)

const (
	DefaultBatchSize = 5

	ReasonCancelled = "dispatch cancelled"
	ReasonTimeout   = "send timed out"
)

type Config struct {
	BatchSize   int
	BatchDelay  time.Duration
	SendTimeout time.Duration
	Retry       retry.Config
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		BatchDelay:  time.Second,
		SendTimeout: 10 * time.Second,
		Retry:       retry.DefaultConfig(),
	}
}

// BatchResult describes one batch. Attempted counts the batch's messages
// that were processed; Invalid is the subset rejected before any network
// call. Error is set when the batch as a whole was rejected.
type BatchResult struct {
	Index     int    `json:"index"`
	Size      int    `json:"size"`
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Invalid   int    `json:"invalid"`
	Error     string `json:"error,omitempty"`
}

// BatchReport accounts for every message handed to SendBatch:
// Sent + Failed == Total.
type BatchReport struct {
	Total      int                `json:"total"`
	Attempted  int                `json:"attempted"`
	Sent       int                `json:"sent"`
	Failed     int                `json:"failed"`
	Invalid    int                `json:"invalid"`
	Cancelled  int                `json:"cancelled"`
	Batches    []BatchResult      `json:"batches"`
	Messages   []*OutboundMessage `json:"messages,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

type Dispatcher struct {
	repo      Repository
	gateways  map[Channel]GatewayClient
	cfg       Config
	publisher events.Publisher
	metrics   metrics.Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

func NewDispatcher(repo Repository, cfg Config, publisher events.Publisher, rec metrics.Recorder, logger zerolog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Dispatcher{
		repo:      repo,
		gateways:  make(map[Channel]GatewayClient),
		cfg:       cfg,
		publisher: publisher,
		metrics:   rec,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterGateway routes channel through gw. Call before sending.
func (d *Dispatcher) RegisterGateway(channel Channel, gw GatewayClient) {
	d.gateways[channel] = gw
}

func (d *Dispatcher) Get(ctx context.Context, id uuid.UUID) (*OutboundMessage, error) {
	return d.repo.GetByID(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context, f Filter, limit, offset int) ([]*OutboundMessage, int, error) {
	return d.repo.List(ctx, f, limit, offset)
}

// Send dispatches msgs concurrently as a single batch and returns them with
// their terminal dispatch outcome.
func (d *Dispatcher) Send(ctx context.Context, msgs []*OutboundMessage) []*OutboundMessage {
	res := d.runBatch(ctx, 0, msgs)
	d.metrics.Add(metrics.MessagesSent, uint64(res.Sent))
	d.metrics.Add(metrics.MessagesFailed, uint64(res.Failed))
	return msgs
}

// SendBatch splits msgs into batches of batchSize, sends each batch
// concurrently and pauses BatchDelay between batches. A rejected batch does
// not stop later ones. Cancelling ctx fails every message not yet started.
func (d *Dispatcher) SendBatch(ctx context.Context, msgs []*OutboundMessage, batchSize int) *BatchReport {
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}
	report := &BatchReport{Total: len(msgs), Messages: msgs, StartedAt: d.now()}

	for idx, start := 0, 0; start < len(msgs); idx, start = idx+1, start+batchSize {
		if idx > 0 && d.cfg.BatchDelay > 0 {
			wait(ctx, d.cfg.BatchDelay)
		}
		if ctx.Err() != nil {
			report.Cancelled = d.cancel(ctx, msgs[start:])
			d.logger.Warn().Int("remaining", report.Cancelled).Msg("dispatch cancelled")
			break
		}
		end := start + batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		res := d.runBatch(ctx, idx, msgs[start:end])
		report.Batches = append(report.Batches, res)
		report.Attempted += res.Attempted
		report.Invalid += res.Invalid
	}

	for _, m := range msgs {
		if m.Status.Reached() {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	report.FinishedAt = d.now()

	d.metrics.Add(metrics.MessagesSent, uint64(report.Sent))
	d.metrics.Add(metrics.MessagesFailed, uint64(report.Failed))
	d.logger.Info().
		Int("total", report.Total).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("batches", len(report.Batches)).
		Msg("dispatch finished")
	return report
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (d *Dispatcher) runBatch(ctx context.Context, idx int, batch []*OutboundMessage) BatchResult {
	res := BatchResult{Index: idx, Size: len(batch), Attempted: len(batch)}
	invalid := make([]bool, len(batch))

	var wg conc.WaitGroup
	for i, m := range batch {
		wg.Go(func() { invalid[i] = d.sendOne(ctx, m) })
	}
	if r := wg.WaitAndRecover(); r != nil {
		res.Error = fmt.Sprintf("batch %d rejected: %v", idx+1, r.Value)
		d.logger.Error().Int("batch", idx+1).Str("panic", r.String()).Msg("batch rejected")
		for _, m := range batch {
			if m.Status == StatusPending {
				d.fail(ctx, m, res.Error)
			}
		}
	}

	for i, m := range batch {
		if m.Status.Reached() {
			res.Sent++
		} else {
			res.Failed++
		}
		if invalid[i] {
			res.Invalid++
		}
	}
	return res
}

// sendOne drives m from pending to sent or failed. It reports whether the
// recipient was rejected before reaching a gateway.
func (d *Dispatcher) sendOne(ctx context.Context, m *OutboundMessage) bool {
	store := context.WithoutCancel(ctx)
	m.Status = StatusPending
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	recipient, verr := ValidateRecipient(m.Channel, m.Recipient)
	if verr == nil {
		m.Recipient = recipient
	}
	if err := d.repo.Create(store, m); err != nil {
		d.logger.Error().Err(err).Str("recipient", m.Recipient).Msg("failed to record message")
		m.Fail(d.now(), "store: "+err.Error())
		return false
	}
	if verr != nil {
		d.fail(ctx, m, verr.Error())
		return true
	}

	gw, ok := d.gateways[m.Channel]
	if !ok {
		d.fail(ctx, m, fmt.Sprintf("no gateway for channel %s", m.Channel))
		return false
	}

	resp, err := d.deliver(ctx, gw, m)
	switch {
	case err != nil:
		d.fail(ctx, m, err.Error())
	case resp == nil:
		d.fail(ctx, m, "empty gateway response")
	case !resp.Accepted:
		reason := resp.Reason
		if reason == "" {
			reason = "rejected by gateway"
		}
		d.fail(ctx, m, reason)
	default:
		status := resp.Status
		if !status.Reached() {
			status = StatusSent
		}
		d.apply(ctx, m, func(s *OutboundMessage) (bool, error) {
			s.Gateway = gw.Name()
			s.GatewayMessageID = resp.ID
			return s.Advance(status, d.now(), "")
		})
	}
	return false
}

func (d *Dispatcher) deliver(ctx context.Context, gw GatewayClient, m *OutboundMessage) (*GatewayResponse, error) {
	sctx := ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	var resp *GatewayResponse
	err := retry.WithRetry(sctx, d.logger, d.cfg.Retry, gw.Name()+".send", func(ctx context.Context) error {
		r, err := gw.Send(ctx, m.Recipient, m.Subject, m.Body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.New(ReasonTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, errors.New(ReasonCancelled)
		}
		return nil, err
	}
	return resp, nil
}

func (d *Dispatcher) fail(ctx context.Context, m *OutboundMessage, reason string) {
	d.apply(ctx, m, func(s *OutboundMessage) (bool, error) {
		return s.Fail(d.now(), reason), nil
	})
	if m.Status == StatusPending {
		m.Fail(d.now(), reason)
	}
}

// apply runs fn against the stored copy of m, then mirrors the result into m.
// Storage writes outlive ctx cancellation so every attempt ends recorded.
func (d *Dispatcher) apply(ctx context.Context, m *OutboundMessage, fn func(s *OutboundMessage) (bool, error)) {
	changed := false
	updated, err := d.repo.Update(context.WithoutCancel(ctx), m.ID, func(s *OutboundMessage) error {
		c, err := fn(s)
		changed = c
		return err
	})
	if err != nil {
		d.logger.Error().Err(err).Str("message_id", m.ID.String()).Msg("failed to update message")
		return
	}
	*m = *updated
	if changed {
		d.publish(ctx, m)
	}
}

// cancel records msgs as failed without sending them.
func (d *Dispatcher) cancel(ctx context.Context, msgs []*OutboundMessage) int {
	store := context.WithoutCancel(ctx)
	at := d.now()
	for _, m := range msgs {
		m.Status = StatusPending
		m.Fail(at, ReasonCancelled)
		if err := d.repo.Create(store, m); err != nil {
			d.logger.Error().Err(err).Msg("failed to record cancelled message")
		}
	}
	return len(msgs)
}

// ApplyStatus records a delivery receipt. ref is a message id or a gateway
// message id. Repeated receipts are no-ops; backward moves fail with
// ErrInvalidTransition.
func (d *Dispatcher) ApplyStatus(ctx context.Context, ref string, status Status, reason string) (*OutboundMessage, bool, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		m, err := d.repo.GetByGatewayID(ctx, ref)
		if err != nil {
			return nil, false, err
		}
		id = m.ID
	}

	changed := false
	m, err := d.repo.Update(ctx, id, func(m *OutboundMessage) error {
		c, err := m.Advance(status, d.now(), reason)
		changed = c
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		if status == StatusFailed {
			d.metrics.Inc(metrics.MessagesFailed)
		}
		d.publish(ctx, m)
	}
	return m, changed, nil
}

// StatusReceiver adapts ApplyStatus to gateway callbacks, logging failures.
func (d *Dispatcher) StatusReceiver() StatusFunc {
	return func(ctx context.Context, gatewayID string, status Status, reason string) {
		if _, _, err := d.ApplyStatus(ctx, gatewayID, status, reason); err != nil {
			d.logger.Warn().Err(err).Str("gateway_message_id", gatewayID).Str("status", string(status)).Msg("status update rejected")
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, m *OutboundMessage) {
	data := map[string]any{
		"message_id": m.ID.String(),
		"channel":    string(m.Channel),
		"status":     string(m.Status),
		"category":   m.Category,
	}
	if m.PatientID != nil {
		data["patient_id"] = m.PatientID.String()
	}
	if m.FailureReason != "" {
		data["failure_reason"] = m.FailureReason
	}
	ev := events.Event{Type: events.MessageStatus, Key: m.ID.String(), OccurredAt: d.now(), Data: data}
	if err := d.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		d.logger.Warn().Err(err).Str("message_id", m.ID.String()).Msg("failed to publish message status")
	}
}
