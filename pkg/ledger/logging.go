package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by ledger operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	UserID         UserID
	Amount         Coins
	Kind           EntryKind
	Content        *ContentRef
	IdempotencyKey IdempotencyKey
	Status         string
	Error          error

	// Outcome carries the terminal purchase state when Operation is a purchase.
	Outcome string
}

// WithOperationLogger wires loggers that receive callbacks for every operation.
func WithOperationLogger(loggers ...OperationLogger) ServiceOption {
	return func(service *Service) {
		for _, logger := range loggers {
			if logger != nil {
				service.loggers = append(service.loggers, logger)
			}
		}
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}
