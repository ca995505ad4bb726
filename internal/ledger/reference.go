package ledger

import (
	"strconv"
	"sync"
	"time"
)

const (
	PrefixServiceFee = "FEE"
	PrefixWithdrawal = "WD"
)

var (
	refMu   sync.Mutex
	refLast int64
)

// NewReference returns "<prefix>-<unix millis>". The millisecond part is
// strictly increasing within the process so two calls never collide; the
// unique index on reference covers multiple processes.
func NewReference(prefix string) string {
	refMu.Lock()
	now := time.Now().UnixMilli()
	if now <= refLast {
		now = refLast + 1
	}
	refLast = now
	refMu.Unlock()
	return prefix + "-" + strconv.FormatInt(now, 10)
}
