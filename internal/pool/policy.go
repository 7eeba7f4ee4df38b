package pool

import (
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// TimeoutPolicy derives how long a command may run before its minion is
// considered hung.
type TimeoutPolicy struct {
	Percent  int
	Constant time.Duration
}

func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{Percent: 125, Constant: 4 * time.Second}
}

// Allowed is Duration*Percent/100 + Constant for ANALYSE and Constant for
// anything else.
func (p TimeoutPolicy) Allowed(cmd model.Command) time.Duration {
	if cmd.Action != model.ActionAnalyse {
		return p.Constant
	}
	return cmd.Test.Duration*time.Duration(p.Percent)/100 + p.Constant
}
