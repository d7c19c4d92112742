package update

import (
	"context"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
)

// NewControl constructs the in-process Control pubsub every pipeline
// component subscribes to (spec §4.6): administrative commands, processed
// by each subscriber in arrival order.
func NewControl() *bus.PubSub[control.Command] {
	return bus.NewLocalPubSub[control.Command]()
}

// CancelTask publishes a cancel_task command naming uids.
func CancelTask(ctx context.Context, ctrl *bus.PubSub[control.Command], uids ...string) error {
	return ctrl.Publish(ctx, "", control.Command{Op: control.CancelTask, UIDs: uids})
}

// CancelPilot publishes a cancel_pilot command, canceling every in-flight
// task across every component.
func CancelPilot(ctx context.Context, ctrl *bus.PubSub[control.Command]) error {
	return ctrl.Publish(ctx, "", control.Command{Op: control.CancelPilot})
}

// Shutdown publishes a shutdown command.
func Shutdown(ctx context.Context, ctrl *bus.PubSub[control.Command]) error {
	return ctrl.Publish(ctx, "", control.Command{Op: control.Shutdown})
}
