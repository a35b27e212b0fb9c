package notify

import (
	"context"

	"github.com/schooleats/orderflow/internal/application/notification"

	"go.uber.org/zap"
)

var _ notification.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log. Used in dev and tests when no
// AMQP broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{log: logger.With(zap.String("component", "log_notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, msg notification.Notification) error {
	_ = ctx
	n.log.Info("notification",
		zap.String("kind", msg.Kind),
		zap.String("order_id", msg.OrderID),
		zap.String("student_id", msg.StudentID),
	)
	return nil
}
