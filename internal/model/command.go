package model

// CommandAction names a pass that an external scheduler can trigger over Kafka.
type CommandAction string

const (
	ActionProcessOverdue   CommandAction = "process-overdue"
	ActionGenerateMonthly  CommandAction = "generate-monthly"
	ActionSyncRouter       CommandAction = "sync-router"
	ActionSyncAll          CommandAction = "sync-all"
	ActionSnapshotSessions CommandAction = "snapshot-sessions"
)

func (a CommandAction) Valid() bool {
	switch a {
	case ActionProcessOverdue, ActionGenerateMonthly, ActionSyncRouter, ActionSyncAll, ActionSnapshotSessions:
		return true
	}
	return false
}

// Command is the payload consumed from the commands topic.
type Command struct {
	ID       string        `json:"id"`
	Action   CommandAction `json:"action"`
	RouterID int64         `json:"router_id,omitempty"`
}
