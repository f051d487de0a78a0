package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := admissionsTotal
	Init()

	if admissionsTotal == nil || admissionsTotal != first {
		t.Fatal("Init() did not keep a single set of collectors")
	}
}

func TestObserveAdmission(t *testing.T) {
	Init()
	before := testutil.ToFloat64(admissionsTotal.WithLabelValues("free"))
	ObserveAdmission("free")
	if got := testutil.ToFloat64(admissionsTotal.WithLabelValues("free")); got != before+1 {
		t.Errorf("expected free admissions to grow by 1, got %f -> %f", before, got)
	}
}

func TestObserveJobRecordsBytes(t *testing.T) {
	Init()
	beforeJobs := testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded"))
	beforeBytes := testutil.ToFloat64(artifactBytesTotal)

	ObserveJob("succeeded", 2*time.Second, 2048)
	ObserveJob("succeeded", time.Second, 0)

	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded")); got != beforeJobs+2 {
		t.Errorf("expected 2 more succeeded jobs, got %f", got-beforeJobs)
	}
	if got := testutil.ToFloat64(artifactBytesTotal); got != beforeBytes+2048 {
		t.Errorf("expected 2048 more bytes, got %f", got-beforeBytes)
	}
}

func TestGauges(t *testing.T) {
	Init()
	before := testutil.ToFloat64(queueDepth)
	IncQueueDepth()
	IncQueueDepth()
	DecQueueDepth()
	if got := testutil.ToFloat64(queueDepth); got != before+1 {
		t.Errorf("expected queue depth %f, got %f", before+1, got)
	}

	beforeWorkers := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != beforeWorkers {
		t.Errorf("expected active workers back at %f, got %f", beforeWorkers, got)
	}
}
