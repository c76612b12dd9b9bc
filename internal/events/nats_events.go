// Package events connects the ledger to NATS: scanner events in, ledger notifications out.
package events

import (
	"context"
	"fmt"
	"time"

	"credit-backend/internal/clients"
	"credit-backend/internal/metrics"
	"credit-backend/internal/services"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Transport the NATS operations the bus needs. *clients.NATSClient implements it.
type Transport interface {
	Subscribe(subject string, handler nats.MsgHandler) error
	PublishJSON(subject string, payload interface{}) error
}

// Published subjects, relative to the configured prefix
const (
	SubjectPointsDeducted     = "ledger.points_deducted"
	SubjectPointsAdded        = "ledger.points_added"
	SubjectWithdrawalRecorded = "withdrawals.recorded"
)

const defaultHandlerTimeout = 2 * time.Minute

// EventBus routes scanner events to the ledger services and publishes ledger notifications
type EventBus struct {
	transport      Transport
	prefix         string
	deposits       services.DepositSink
	withdrawals    services.WithdrawalSink
	handlerTimeout time.Duration
	logger         *logrus.Logger
}

// NewEventBus creates a new EventBus. prefix defaults to "credit".
func NewEventBus(transport Transport, prefix string, logger *logrus.Logger) *EventBus {
	if prefix == "" {
		prefix = "credit"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventBus{
		transport:      transport,
		prefix:         prefix,
		handlerTimeout: defaultHandlerTimeout,
		logger:         logger,
	}
}

// Subject full subject name for a relative one
func (b *EventBus) Subject(relative string) string {
	return b.prefix + "." + relative
}

// SubscribeVaultEvents routes CreditVault events of every chain to the given sinks
func (b *EventBus) SubscribeVaultEvents(deposits services.DepositSink, withdrawals services.WithdrawalSink) error {
	if b.transport == nil {
		return fmt.Errorf("NATS transport not initialized")
	}
	b.deposits = deposits
	b.withdrawals = withdrawals

	if err := b.transport.Subscribe(b.Subject("*.CreditVault."+clients.EventDepositRecorded), b.handleDepositRecorded); err != nil {
		return fmt.Errorf("failed to subscribe to deposit recorded: %w", err)
	}
	if err := b.transport.Subscribe(b.Subject("*.CreditVault."+clients.EventWithdrawalRequested), b.handleWithdrawalRequested); err != nil {
		return fmt.Errorf("failed to subscribe to withdrawal requested: %w", err)
	}
	b.logger.Info("✅ [NATS] vault event subscriptions initialized")
	return nil
}

// PublishPointsDeducted implements services.LedgerEventPublisher
func (b *EventBus) PublishPointsDeducted(_ context.Context, event services.PointsDeductedEvent) error {
	return b.publish(SubjectPointsDeducted, event)
}

// PublishPointsAdded implements services.LedgerEventPublisher
func (b *EventBus) PublishPointsAdded(_ context.Context, event services.PointsAddedEvent) error {
	return b.publish(SubjectPointsAdded, event)
}

// PublishWithdrawalRecorded implements services.LedgerEventPublisher
func (b *EventBus) PublishWithdrawalRecorded(_ context.Context, event services.WithdrawalRecordedEvent) error {
	return b.publish(SubjectWithdrawalRecorded, event)
}

func (b *EventBus) publish(relative string, payload interface{}) error {
	if b.transport == nil {
		return fmt.Errorf("NATS transport not initialized")
	}
	return b.transport.PublishJSON(b.Subject(relative), payload)
}

func (b *EventBus) handleDepositRecorded(msg *nats.Msg) {
	const eventType = clients.EventDepositRecorded
	b.handle(msg, eventType, func(ctx context.Context, event *clients.ScannerEventNotification) error {
		if b.deposits == nil {
			return fmt.Errorf("no deposit handler registered")
		}
		deposit, err := ConvertScannerEventToDepositRecorded(event)
		if err != nil {
			return err
		}
		_, err = b.deposits.IngestDeposit(ctx, deposit)
		return err
	})
}

func (b *EventBus) handleWithdrawalRequested(msg *nats.Msg) {
	const eventType = clients.EventWithdrawalRequested
	b.handle(msg, eventType, func(ctx context.Context, event *clients.ScannerEventNotification) error {
		if b.withdrawals == nil {
			return fmt.Errorf("no withdrawal handler registered")
		}
		request, err := ConvertScannerEventToWithdrawalRequested(event)
		if err != nil {
			return err
		}
		_, err = b.withdrawals.ProcessWithdrawalRequest(ctx, request, event.TxHash, event.BlockNumber)
		return err
	})
}

// handle decodes the envelope and runs process with panic recovery and metrics.
// Failed events are picked up again by the chain backfill.
func (b *EventBus) handle(msg *nats.Msg, eventType string, process func(ctx context.Context, event *clients.ScannerEventNotification) error) {
	logger := b.logger.WithFields(logrus.Fields{"subject": msg.Subject, "event": eventType})
	defer func() {
		if r := recover(); r != nil {
			metrics.NATSMessagesFailed.WithLabelValues(eventType, "panic").Inc()
			logger.Errorf("❌ [NATS] PANIC recovered: %v", r)
		}
	}()
	metrics.NATSMessagesReceived.WithLabelValues(eventType).Inc()

	event, err := decodeScannerEvent(msg.Data)
	if err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(eventType, "decode_error").Inc()
		logger.WithError(err).Warn("[NATS] dropping undecodable event")
		return
	}
	logger = logger.WithFields(logrus.Fields{"tx_hash": event.TxHash, "block": event.BlockNumber})

	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()
	if err := process(ctx, event); err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(eventType, "process_error").Inc()
		logger.WithError(err).Error("❌ [NATS] event processing failed")
		return
	}
	logger.Debug("[NATS] event processed")
}
