package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/conclavehq/conclave/internal/model"
)

func TestLoadTrajectory_Missing(t *testing.T) {
	traj, err := LoadTrajectory(filepath.Join(t.TempDir(), "absent.traj.json"), "w-1")
	if err != nil {
		t.Fatalf("missing trajectory must not error: %v", err)
	}
	if traj != nil {
		t.Errorf("traj = %+v, want nil", traj)
	}
}

func TestLoadTrajectory_Parses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w-1.traj.json")
	content := `{
		"turns": 5,
		"questions": [
			{"text": "Tabs or spaces?", "effort": "low"},
			{"text": "How should caching work?"}
		],
		"violations": [
			{"kind": "language", "detail": "replied in the wrong language"}
		]
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing trajectory: %v", err)
	}

	traj, err := LoadTrajectory(path, "w-1")
	if err != nil {
		t.Fatalf("LoadTrajectory failed: %v", err)
	}
	if traj.WorkerID != "w-1" {
		t.Errorf("WorkerID = %q, want w-1", traj.WorkerID)
	}
	if traj.Turns != 5 {
		t.Errorf("Turns = %d, want 5", traj.Turns)
	}
	if len(traj.Questions) != 2 {
		t.Fatalf("Questions = %d, want 2", len(traj.Questions))
	}
	if traj.Questions[0].Effort != model.EffortLow {
		t.Errorf("pre-tagged effort = %q, want low", traj.Questions[0].Effort)
	}
	if traj.Questions[1].Effort != "" {
		t.Errorf("untagged effort = %q, want empty for downstream classification", traj.Questions[1].Effort)
	}
	if len(traj.Violations) != 1 || traj.Violations[0].Kind != model.ViolationLanguage {
		t.Errorf("Violations = %+v, want one language violation", traj.Violations)
	}
}

func TestLoadTrajectory_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w-1.traj.json")
	os.WriteFile(path, []byte("{ truncated"), 0644)

	if _, err := LoadTrajectory(path, "w-1"); err == nil {
		t.Error("malformed trajectory must error")
	}
}
