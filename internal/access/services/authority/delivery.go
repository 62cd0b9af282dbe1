package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/haukened/gracegate/internal/access/domain"
)

// DeliveryState tracks one enforcement instruction.
type DeliveryState uint8

const (
	// Delivering is the first attempt, after the initial delay.
	Delivering DeliveryState = iota
	// Delivered means the enforcer accepted the instruction.
	Delivered
	// Retrying follows a failed first attempt and an enforcer injection.
	Retrying
	// Abandoned means the retry or the injection failed, or the authority stopped.
	Abandoned
)

// String returns the upper-case state name used in logs and metrics.
func (s DeliveryState) String() string {
	switch s {
	case Delivering:
		return "DELIVERING"
	case Delivered:
		return "DELIVERED"
	case Retrying:
		return "RETRYING"
	case Abandoned:
		return "ABANDONED"
	default:
		return fmt.Sprintf("DeliveryState(%d)", s)
	}
}

// DeliveryResult is reported once per instruction when it reaches a
// terminal state.
type DeliveryResult struct {
	Enforce  domain.Enforce
	State    DeliveryState
	Attempts int
	Err      error
}

// dispatch delivers e in the background.
func (a *Authority) dispatch(e domain.Enforce) {
	if a.ctx.Err() != nil {
		a.logger.Debug(map[string]any{"tab": e.TabID}, "authority stopped, enforcement dropped")
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res := a.deliver(a.ctx, e)
		a.recorder.Delivery(e.Mode, res.State)
		if a.onDelivery != nil {
			a.onDelivery(res)
		}
	}()
}

// deliver runs DELIVERING → DELIVERED, or RETRYING → DELIVERED | ABANDONED.
// The receiver may not be installed yet, so a failed first attempt injects
// it and retries exactly once. Failures are logged and never surface to
// the navigation that caused them.
func (a *Authority) deliver(ctx context.Context, e domain.Enforce) DeliveryResult {
	fields := map[string]any{"tab": e.TabID, "mode": e.Mode.String()}
	res := DeliveryResult{Enforce: e, State: Delivering}

	if err := sleep(ctx, a.deliveryDelay); err != nil {
		res.State, res.Err = Abandoned, err
		return res
	}
	res.Attempts++
	err := a.enforcer.Deliver(ctx, e)
	if err == nil {
		res.State = Delivered
		return res
	}

	res.State = Retrying
	fields["err"] = err
	a.logger.Debug(fields, "enforcer not reachable, injecting")
	if ierr := a.enforcer.Inject(ctx, e.TabID); ierr != nil {
		fields["err"] = ierr
		a.logger.Warn(fields, "enforcer injection failed, delivery abandoned")
		res.State, res.Err = Abandoned, ierr
		return res
	}
	if err := sleep(ctx, a.retryDelay); err != nil {
		res.State, res.Err = Abandoned, err
		return res
	}
	res.Attempts++
	if err := a.enforcer.Deliver(ctx, e); err != nil {
		fields["err"] = err
		a.logger.Warn(fields, "enforcement retry failed, delivery abandoned")
		res.State, res.Err = Abandoned, err
		return res
	}
	res.State = Delivered
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
