package scheduler

import (
	"strings"
	"testing"
)

func TestJobIDIsUniquePerThreadAndKind(t *testing.T) {
	ingest := jobID("t1", false, "run-1")
	catchUp := jobID("t1", true, "run-1")

	if ingest == catchUp {
		t.Error("ingest and catch-up job ids must differ even for the same thread and run")
	}
	if ingest != "ingest-t1" {
		t.Errorf("unexpected ingest job id shape: %s", ingest)
	}
	if !strings.Contains(catchUp, "catchup") {
		t.Errorf("catch-up job id should be distinguishable: %s", catchUp)
	}
}

func TestJobIDCatchUpVariesByRunID(t *testing.T) {
	a := jobID("t1", true, "run-1")
	b := jobID("t1", true, "run-2")
	if a == b {
		t.Error("catch-up job ids for the same thread after different partial runs should differ")
	}
}
