package metrics

// Builtin metric names.
const (
	HTTPReqsName          = "http_reqs"
	HTTPReqDurationName   = "http_req_duration"
	HTTPReqFailedName     = "http_req_failed"
	HTTPReqWaitingName    = "http_req_waiting"
	HTTPReqConnectingName = "http_req_connecting"
	IterationsName        = "iterations"
	IterationDurationName = "iteration_duration"
	IterationErrorsName   = "iteration_errors"
	DroppedIterationsName = "dropped_iterations"
	ChecksName            = "checks"
	DataSentName          = "data_sent"
	DataReceivedName      = "data_received"
	VUsName               = "vus"
	VUsMaxName            = "vus_max"
)

// BuiltinMetrics holds the metrics every run records.
type BuiltinMetrics struct {
	HTTPReqs          *Metric
	HTTPReqDuration   *Metric
	HTTPReqFailed     *Metric
	HTTPReqWaiting    *Metric
	HTTPReqConnecting *Metric

	Iterations        *Metric
	IterationDuration *Metric
	IterationErrors   *Metric
	DroppedIterations *Metric

	Checks *Metric

	DataSent     *Metric
	DataReceived *Metric

	VUs    *Metric
	VUsMax *Metric
}

// RegisterBuiltinMetrics registers the builtin metrics on r.
func RegisterBuiltinMetrics(r *Registry) *BuiltinMetrics {
	return &BuiltinMetrics{
		HTTPReqs:          r.MustNewMetric(HTTPReqsName, TypeCounter),
		HTTPReqDuration:   r.MustNewMetric(HTTPReqDurationName, TypeTrend, Time),
		HTTPReqFailed:     r.MustNewMetric(HTTPReqFailedName, TypeRate),
		HTTPReqWaiting:    r.MustNewMetric(HTTPReqWaitingName, TypeTrend, Time),
		HTTPReqConnecting: r.MustNewMetric(HTTPReqConnectingName, TypeTrend, Time),

		Iterations:        r.MustNewMetric(IterationsName, TypeCounter),
		IterationDuration: r.MustNewMetric(IterationDurationName, TypeTrend, Time),
		IterationErrors:   r.MustNewMetric(IterationErrorsName, TypeCounter),
		DroppedIterations: r.MustNewMetric(DroppedIterationsName, TypeCounter),

		Checks: r.MustNewMetric(ChecksName, TypeRate),

		DataSent:     r.MustNewMetric(DataSentName, TypeCounter, Data),
		DataReceived: r.MustNewMetric(DataReceivedName, TypeCounter, Data),

		VUs:    r.MustNewMetric(VUsName, TypeGauge),
		VUsMax: r.MustNewMetric(VUsMaxName, TypeGauge),
	}
}
