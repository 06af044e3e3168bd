package executor

import (
	"go.uber.org/zap"
)

// ConstantArrivalRate maintains a fixed iteration rate (open model).
//
// Unlike VU-based executors where throughput depends on response time,
// arrival-rate executors schedule iterations at a constant rate regardless
// of how long each iteration takes. It is a ramping arrival rate with a
// single flat stage, so pool sizing and the drop policy behave the same.
//
// Use cases:
//   - Testing system behavior under constant load
//   - SLA validation (e.g., "system must handle 100 RPS")
//   - Capacity testing with predictable arrival patterns
//
// Example:
//
//	config:
//	  executor: constant-arrival-rate
//	  rate: 100              # 100 iterations per second
//	  duration: 5m           # Run for 5 minutes
//	  preAllocatedVUs: 10    # Start with 10 VUs
//	  maxVUs: 50             # Scale up to 50 VUs if needed
type ConstantArrivalRate struct {
	*RampingArrivalRate
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate(cfg *Config, params ConstantArrivalRateParams, logger *zap.Logger) *ConstantArrivalRate {
	return &ConstantArrivalRate{
		RampingArrivalRate: newArrivalRate(cfg, TypeConstantArrivalRate, params.profile(), logger),
	}
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
