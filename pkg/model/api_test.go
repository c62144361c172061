package model

import "testing"

func TestSummarize(t *testing.T) {
	j := &TestJob{
		ID:           "job_1",
		ActualDevice: "panda01",
		Priority:     PriorityHigh,
		HealthCheck:  true,
		TargetGroup:  "grp",
	}
	s := Summarize(j)
	if s.ID != "job_1" || s.Device != "panda01" {
		t.Errorf("Summarize = %+v", s)
	}
	if s.Priority != PriorityHigh || !s.HealthCheck || s.TargetGroup != "grp" {
		t.Errorf("Summarize = %+v", s)
	}
}
