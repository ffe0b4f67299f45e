package audit

import (
	"context"

	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
)

// ConnectionRecorder adapts a Repository to internal/gateway.AuditSink,
// recording connection lifecycle transitions, auth failures, and executed
// commands as audit log entries. Device state itself is never recorded
// here — only that something happened.
type ConnectionRecorder struct {
	repo   Repository
	logger *logging.Logger
}

// NewConnectionRecorder builds a ConnectionRecorder backed by repo.
func NewConnectionRecorder(repo Repository, logger *logging.Logger) *ConnectionRecorder {
	return &ConnectionRecorder{repo: repo, logger: logger}
}

// RecordConnection persists one connection lifecycle event. Failures are
// logged and swallowed: the audit trail is ambient observability, not a
// correctness dependency of the gateway session itself.
func (c *ConnectionRecorder) RecordConnection(ctx context.Context, userID, clientID, event, detail string) {
	log := &AuditLog{
		Action:     event,
		EntityType: EntityTypeGatewayConnection,
		EntityID:   clientID,
		UserID:     userID,
		Source:     "gateway",
	}
	if detail != "" {
		log.Details = map[string]any{"detail": detail}
	}

	if err := c.repo.Create(ctx, log); err != nil {
		c.logger.Warn("audit: failed to record connection event", "event", event, "error", err)
	}
}

// RecordCommand persists one executed (or rejected) device command, for
// operator forensics. It never records the command payload's device state —
// only that userID issued command against deviceID and how it resolved.
func (c *ConnectionRecorder) RecordCommand(ctx context.Context, userID, deviceID, command, status string) {
	log := &AuditLog{
		Action:     "execute",
		EntityType: EntityTypeDevice,
		EntityID:   deviceID,
		UserID:     userID,
		Source:     "fulfillment",
		Details:    map[string]any{"command": command, "status": status},
	}
	if err := c.repo.Create(ctx, log); err != nil {
		c.logger.Warn("audit: failed to record command", "device", deviceID, "error", err)
	}
}
