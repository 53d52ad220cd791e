package worker

import (
	"encoding/json"
	"os"

	"github.com/conclavehq/conclave/internal/model"
)

// trajectoryFile is the on-disk form of a worker's interaction record.
// Instrumented agents write it next to their output file; legacy agents
// simply never create it.
type trajectoryFile struct {
	Turns     int `json:"turns"`
	Questions []struct {
		Text   string `json:"text"`
		Effort string `json:"effort,omitempty"`
	} `json:"questions"`
	Violations []struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail,omitempty"`
	} `json:"violations"`
}

// LoadTrajectory reads a worker's trajectory file. A missing file returns
// (nil, nil): uninstrumented agents are a supported degrade path, not an
// error. A present but malformed file is an error.
func LoadTrajectory(path, workerID string) (*model.Trajectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tf trajectoryFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, err
	}

	traj := &model.Trajectory{
		WorkerID: workerID,
		Turns:    tf.Turns,
	}
	for _, q := range tf.Questions {
		traj.Questions = append(traj.Questions, model.Question{
			Text:   q.Text,
			Effort: model.EffortLevel(q.Effort),
		})
	}
	for _, v := range tf.Violations {
		traj.Violations = append(traj.Violations, model.Violation{
			Kind:   model.ViolationKind(v.Kind),
			Detail: v.Detail,
		})
	}
	return traj, nil
}
