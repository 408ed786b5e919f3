package events

import (
	"time"

	"github.com/google/uuid"

	"scanbrain/internal/model"
)

// All subscribes to completions of every instance.
const All = "*"

// Completion is raised when an instance finishes a work cycle.
type Completion struct {
	ID          string             `json:"id"`
	Instance    string             `json:"instance"`
	Kind        model.InstanceKind `json:"kind"`
	CompletedAt time.Time          `json:"completed_at"`
}

// NewCompletion stamps a completion with a fresh id.
func NewCompletion(instance string, kind model.InstanceKind, at time.Time) Completion {
	return Completion{ID: uuid.NewString(), Instance: instance, Kind: kind, CompletedAt: at}
}

// Broker fans completion events out to subscribers keyed by instance name.
type Broker interface {
	Subscribe(instance string) chan Completion
	Unsubscribe(instance string, ch chan Completion)
	Publish(evt Completion)
}
