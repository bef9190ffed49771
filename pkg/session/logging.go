package session

import (
	"context"

	"go.uber.org/zap"
)

// StoreOption configures a Store instance.
type StoreOption func(*Store)

// OperationLogger records every state-changing session operation.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one session operation and its outcome.
type OperationLog struct {
	Operation string
	Status    string
	UserID    int64
	Email     string
	State     State
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) StoreOption {
	return func(store *Store) {
		store.operationLogger = logger
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(store *Store) {
		store.logger = logger
	}
}

// ZapOperationLogger writes operation logs through zap.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger adapts a zap logger to OperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one structured entry; failures are logged at warn.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("state", entry.State.String()),
	}
	if entry.UserID != 0 {
		fields = append(fields, zap.Int64("user_id", entry.UserID))
	}
	if entry.Email != "" {
		fields = append(fields, zap.String("email", entry.Email))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("session operation", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("session operation", fields...)
}
