package reconcile

import (
	"strings"

	"github.com/sudo-init-do/mkopo/internal/ledger"
)

type Action int

const (
	ActionUnknown Action = iota
	ActionSettle
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionSettle:
		return "settle"
	case ActionFail:
		return "fail"
	}
	return "unknown"
}

// MapStatus translates a gateway status into the local transition. Statuses
// outside the known set leave the transaction untouched.
func MapStatus(gatewayStatus string) (Action, ledger.Status) {
	switch strings.ToLower(strings.TrimSpace(gatewayStatus)) {
	case "completed", "complete", "success", "successful", "processing":
		return ActionSettle, ledger.StatusCompleted
	case "failed", "failure":
		return ActionFail, ledger.StatusFailed
	case "cancelled", "canceled":
		return ActionFail, ledger.StatusCancelled
	}
	return ActionUnknown, ledger.StatusPending
}
