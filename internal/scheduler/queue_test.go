package scheduler

import "testing"

func TestIngestionTierForBucketsPriorityRanges(t *testing.T) {
	cases := []struct {
		priority int
		want     string
	}{
		{0, QueueIngestionHigh},
		{3, QueueIngestionHigh},
		{4, QueueIngestionNormal},
		{7, QueueIngestionNormal},
		{8, QueueIngestionLow},
		{10, QueueIngestionLow},
	}
	for _, c := range cases {
		if got := ingestionTierFor(c.priority); got != c.want {
			t.Errorf("ingestionTierFor(%d) = %s, want %s", c.priority, got, c.want)
		}
	}
}

func TestRetryDelayMatchesBackoffSchedule(t *testing.T) {
	cases := map[int]int64{
		1: int64(baseRetryDelay),
		2: int64(2 * baseRetryDelay),
		3: int64(4 * baseRetryDelay),
	}
	for attempt, want := range cases {
		if got := retryDelay(attempt, nil, nil); int64(got) != want {
			t.Errorf("retryDelay(%d) = %s, want %dns", attempt, got, want)
		}
	}
}
