// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package otamgr

import (
	"strings"

	"github.com/Stani56/Stanis-Clock-sub004/bootrecord"
	"github.com/Stani56/Stanis-Clock-sub004/types"
)

// bootDecision bumps the attempt counter and takes the threshold
// rollback before any other subsystem initializes. A trial image that
// wedges the flash layer or the rest of init must still burn through
// its attempts, so nothing here may depend on the slot files being
// readable. Returns the store, the slot we are actually running from,
// and whether the record was rolled back.
func bootDecision(config Config) (*bootrecord.Store, types.SlotLabel, bool, error) {
	record, err := bootrecord.NewStore(log, config.PersistDir)
	if err != nil {
		return nil, "", false, err
	}
	rec, err := record.IncrementBootAttempt()
	if err != nil {
		return nil, "", false, err
	}
	runningSlot := rec.ActiveSlot
	if !record.RollbackNeeded() {
		return record, runningSlot, false, nil
	}

	next, err := record.Rollback()
	if err != nil {
		return nil, "", false, err
	}
	rbErr := rollbackError(runningSlot, next.ActiveSlot)
	log.Errorf("bootDecision: %s", rbErr)
	if config.RequestReboot != nil {
		config.RequestReboot(rbErr.Error())
	}
	return record, runningSlot, true, nil
}

func rollbackError(failed, reverted types.SlotLabel) error {
	return types.NewUpdateError(types.RollbackTriggered,
		"slot %s exhausted %d boot attempts, reverting to %s",
		failed, bootrecord.MaxBootAttempts, reverted)
}

// handleBootSequence finishes the boot-time work once the context is
// up: slot-state bookkeeping for a rollback, or the health-gated
// commit of a pending trial. The attempt counter was already bumped by
// bootDecision.
func handleBootSequence(ctx *otaMgrContext, rolledBack bool, failedSlot types.SlotLabel) error {
	publishBootRecord(ctx)

	switch {
	case rolledBack:
		return finishRollback(ctx, failedSlot)
	case ctx.record.Record().PendingVerify:
		return handleTrialBoot(ctx)
	default:
		log.Infof("normal boot from %s, version %q",
			ctx.record.Record().ActiveSlot, ctx.runningVersion)
		publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
			status.State = types.IDLE
		})
		return nil
	}
}

// finishRollback does the slot-state bookkeeping for a record that
// bootDecision already reverted. The device keeps running the failed
// image until the requested reboot; the bootloader then follows the
// reverted record.
func finishRollback(ctx *otaMgrContext, failedSlot types.SlotLabel) error {
	if err := ctx.slots.ApplyRollback(); err != nil {
		return err
	}
	publishBootRecord(ctx)

	rbErr := rollbackError(failedSlot, ctx.record.Record().ActiveSlot)
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.State = types.ROLLED_BACK
		status.SetErrorNow(rbErr.Error())
	})
	return nil
}

// handleTrialBoot gates the commit of a freshly booted image on the
// health checks. A failed pass leaves the trial pending; the attempt
// counter decides across reboots when to give up.
func handleTrialBoot(ctx *otaMgrContext) error {
	rec := ctx.record.Record()
	log.Infof("trial boot %d of %d from %s",
		rec.BootAttemptCount, bootrecord.MaxBootAttempts, rec.ActiveSlot)
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.State = types.PENDING_VERIFY
	})

	report := ctx.checks.Run()
	if err := ctx.pubHealthReport.Publish(report.Key(), report); err != nil {
		log.Errorf("publish health report: %s", err)
	}

	if !report.Passed {
		failed := strings.Join(report.FailedProbes(), ", ")
		log.Warnf("health checks failed (%s), trial stays pending", failed)
		publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
			status.SetErrorNow("health checks failed: " + failed)
		})
		return nil
	}

	if err := ctx.record.Commit(); err != nil {
		return err
	}
	if err := ctx.slots.MarkCurrentPartitionStateActive(); err != nil {
		return err
	}
	publishBootRecord(ctx)
	log.Infof("committed version %q on %s", ctx.runningVersion, rec.ActiveSlot)
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.State = types.COMMITTED
		status.ClearError()
	})
	return nil
}
