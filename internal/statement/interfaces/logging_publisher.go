package interfaces

import (
	"context"
	"errors"
	"log"

	"ownerledger/internal/statement/application"
)

// LoggingPublisher logs statement lifecycle events.
type LoggingPublisher struct {
	logger *log.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *log.Logger) *LoggingPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishStatementGenerated logs the event.
func (p *LoggingPublisher) PublishStatementGenerated(ctx context.Context, event application.StatementGenerated) error {
	_ = ctx
	if p == nil {
		return errors.New("statement publisher: nil publisher")
	}
	p.logger.Printf("statement generated: id=%s property=%s period=%s net=%.2f version=%d",
		event.StatementID, event.PropertyID, event.PeriodStart.Format("2006-01-02"), event.NetPayout, event.Version)
	return nil
}

// PublishStatementFinalized logs the event.
func (p *LoggingPublisher) PublishStatementFinalized(ctx context.Context, event application.StatementFinalized) error {
	_ = ctx
	if p == nil {
		return errors.New("statement publisher: nil publisher")
	}
	p.logger.Printf("statement finalized: id=%s property=%s net=%.2f account=%s",
		event.StatementID, event.PropertyID, event.NetPayout, event.TransferAccount)
	return nil
}
