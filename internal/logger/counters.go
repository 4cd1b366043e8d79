package logger

import "sync/atomic"

// counters back the health endpoint. They advance whether or not the
// matching log line was sampled.
var counters struct {
	errors              atomic.Int64
	warnings            atomic.Int64
	http5xx             atomic.Int64
	http4xx             atomic.Int64
	http400             atomic.Int64
	http404             atomic.Int64
	evaluations         atomic.Int64
	debugEvaluations    atomic.Int64
	rejectedEvaluations atomic.Int64
}

// ErrorHttp5xx counts a 5xx response as an error
func ErrorHttp5xx() {
	counters.http5xx.Add(1)
	counters.errors.Add(1)
}

// WarnHttp4xx counts a 4xx response as a warning
func WarnHttp4xx(status int) {
	counters.http4xx.Add(1)
	counters.warnings.Add(1)

	switch status {
	case 400:
		counters.http400.Add(1)
	case 404:
		counters.http404.Add(1)
	}
}

func CountEvaluation(debug bool) {
	counters.evaluations.Add(1)
	if debug {
		counters.debugEvaluations.Add(1)
	}
}

// CountRejectedEvaluation counts a request that never reached the evaluator
func CountRejectedEvaluation() {
	counters.rejectedEvaluations.Add(1)
}

func Snapshot() map[string]int64 {
	return map[string]int64{
		"errors":              counters.errors.Load(),
		"warnings":            counters.warnings.Load(),
		"http5xx":             counters.http5xx.Load(),
		"http4xx":             counters.http4xx.Load(),
		"http400":             counters.http400.Load(),
		"http404":             counters.http404.Load(),
		"evaluations":         counters.evaluations.Load(),
		"debugEvaluations":    counters.debugEvaluations.Load(),
		"rejectedEvaluations": counters.rejectedEvaluations.Load(),
	}
}
