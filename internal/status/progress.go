package status

import "github.com/mmeshcher/order-tracker/internal/model"

// checkpoints задаёт фиксированную шкалу выполнения заказа.
var checkpoints = [...]model.Status{
	model.StatusAccepted,
	model.StatusInProgress,
	model.StatusCompleted,
}

// Checkpoint описывает одну отметку на шкале выполнения.
type Checkpoint struct {
	Status  model.Status `json:"status"`
	Label   string       `json:"label"`
	Reached bool         `json:"reached"`
	Current bool         `json:"current"`
}

// Progress описывает проекцию статуса на шкалу выполнения.
type Progress struct {
	Percent          int          `json:"percent"`
	CompletedSteps   int          `json:"completedSteps"`
	CurrentStepIndex int          `json:"currentStepIndex"`
	Halted           bool         `json:"halted"`
	Checkpoints      []Checkpoint `json:"checkpoints"`
}

// ProgressOf отображает статус на шкалу из трёх отметок.
// CurrentStepIndex указывает на последнюю достигнутую отметку или равен -1.
func ProgressOf(raw model.Status) Progress {
	s, _ := Parse(string(raw))

	steps := reachedSteps(s)
	p := Progress{
		Percent:          percentFor(steps),
		CompletedSteps:   steps,
		CurrentStepIndex: steps - 1,
		Halted:           s == model.StatusRejected,
		Checkpoints:      make([]Checkpoint, 0, len(checkpoints)),
	}

	for i, c := range checkpoints {
		p.Checkpoints = append(p.Checkpoints, Checkpoint{
			Status:  c,
			Label:   labels[c],
			Reached: i < steps,
			Current: i == steps-1,
		})
	}

	return p
}

func reachedSteps(s model.Status) int {
	switch s {
	case model.StatusAccepted:
		return 1
	case model.StatusInProgress:
		return 2
	case model.StatusCompleted:
		return 3
	default:
		return 0
	}
}

func percentFor(steps int) int {
	return steps * 100 / len(checkpoints)
}
