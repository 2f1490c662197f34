package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/resilience"
)

// Queue carries extraction events from the OCR pipeline to the mapping
// workers and publishes pending-suggestion notices for reviewers.
type Queue struct {
	conn              *nats.Conn
	extractionSubject string
	notifySubject     string
	queueGroup        string
	executor          *resilience.Executor
	logger            *slog.Logger
}

type Options struct {
	ExtractionSubject    string
	NotifySubject        string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("freight-mapping-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:              conn,
		extractionSubject: firstNonEmpty(options.ExtractionSubject, "documents.extracted"),
		notifySubject:     firstNonEmpty(options.NotifySubject, "mapping.suggestions.pending"),
		queueGroup:        firstNonEmpty(options.QueueGroup, "mapping-workers"),
		executor:          options.ResilienceExecutor,
		logger:            logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishExtraction(ctx context.Context, event domain.ExtractionEvent) error {
	if err := validateExtraction(event); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal extraction event: %w", err)
	}
	return q.publish(ctx, q.extractionSubject, payload)
}

// SubscribeExtractions blocks until ctx is done. Malformed payloads are
// logged and dropped; handler errors are logged and the message is not
// redelivered.
func (q *Queue) SubscribeExtractions(ctx context.Context, handler func(context.Context, domain.ExtractionEvent) error) error {
	sub, err := q.conn.QueueSubscribe(q.extractionSubject, q.queueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := decodeExtraction(msg.Data)
		if err != nil {
			q.logger.Warn("extraction_event_invalid", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			q.logger.Error("extraction_event_failed", "document_id", event.DocumentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

func decodeExtraction(data []byte) (domain.ExtractionEvent, error) {
	var event domain.ExtractionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.ExtractionEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode extraction event", err)
	}
	if err := validateExtraction(event); err != nil {
		return domain.ExtractionEvent{}, err
	}
	for i := range event.Fields {
		if event.Fields[i].DocumentID == "" {
			event.Fields[i].DocumentID = event.DocumentID
		}
	}
	return event, nil
}

func validateExtraction(event domain.ExtractionEvent) error {
	if strings.TrimSpace(event.DocumentID) == "" || strings.TrimSpace(event.OrganizationID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate extraction event",
			errors.New("documentId and organizationId are required"))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
