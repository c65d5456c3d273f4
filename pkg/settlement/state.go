package settlement

import (
	"fmt"

	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

// allowedTransitions is the complete lifecycle graph. StateUnknown is the
// state of a record before registration.
var allowedTransitions = map[models.State]models.State{
	models.StateUnknown:  models.StateOpen,
	models.StateOpen:     models.StateSelected,
	models.StateSelected: models.StateExecuted,
}

// requireState rejects with ErrWrongState unless the record is in want
func requireState(rec *models.IntentRecord, want models.State) error {
	if rec.State != want {
		return fmt.Errorf("%w: intent %s is %s, need %s", ErrWrongState, rec.ID.Hex(), rec.State, want)
	}
	return nil
}

// transition advances rec to next if the graph allows it
func transition(rec *models.IntentRecord, next models.State) error {
	if allowed, ok := allowedTransitions[rec.State]; !ok || allowed != next {
		return fmt.Errorf("%w: intent %s cannot move %s -> %s", ErrWrongState, rec.ID.Hex(), rec.State, next)
	}
	rec.State = next
	return nil
}
