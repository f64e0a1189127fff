// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package otamgr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/downloader"
	"github.com/Stani56/Stanis-Clock-sub004/manifest"
	"github.com/Stani56/Stanis-Clock-sub004/types"
	"github.com/Stani56/Stanis-Clock-sub004/verifier"
	uuid "github.com/satori/go.uuid"
)

type pipelineResult struct {
	sessionID     uuid.UUID
	finalState    types.UpdateState
	targetVersion string
	err           error
	rebootNeeded  bool
}

// runPipeline executes one check or update session in its own
// goroutine and reports the outcome to the main loop.
func runPipeline(ctx *otaMgrContext, mode types.UpdateCommandOp, cancelChan chan struct{}) {
	sessionID, err := uuid.NewV4()
	if err != nil {
		log.Errorf("runPipeline: uuid: %s", err)
	}
	res := pipelineResult{sessionID: sessionID}
	defer func() { ctx.resultChan <- res }()

	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.SessionID = sessionID
		status.State = types.CHECKING
		status.Progress = 0
		status.TargetVersion = ""
		status.ClearError()
	})

	m, err := fetchWithFailover(ctx, cancelChan)
	if err != nil {
		res.finalState, res.err = finishPipeline(ctx, types.FAILED, err)
		return
	}
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.LastChecked = time.Now()
	})

	if !needsUpdate(ctx, m) {
		log.Infof("version %s from %s: up to date (running %q)",
			m.Version, m.SourceName, ctx.runningVersion)
		res.finalState = types.IDLE
		if mode == types.CommandUpdate {
			// An explicit update request that has nothing to do is
			// an error the requester can see, like a cancel with
			// nothing running.
			res.err = types.NewUpdateError(types.StateError,
				"up to date: already running %q", ctx.runningVersion)
			publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
				status.State = types.IDLE
				status.TargetVersion = ""
				status.SetErrorNow(res.err.Error())
			})
			return
		}
		publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
			status.State = types.IDLE
			status.TargetVersion = ""
		})
		return
	}
	log.Infof("version %s from %s is an update over %q",
		m.Version, m.SourceName, ctx.runningVersion)
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.TargetVersion = m.Version
	})
	res.targetVersion = m.Version

	if mode == types.CommandCheck {
		publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
			status.State = types.IDLE
		})
		res.finalState = types.IDLE
		return
	}

	if err := downloadToStandby(ctx, sessionID, m, cancelChan); err != nil {
		res.finalState, res.err = abortToStandbyErase(ctx, err)
		return
	}

	if err := verifyStandby(ctx, m, cancelChan); err != nil {
		res.finalState, res.err = abortToStandbyErase(ctx, err)
		return
	}

	// Past this point cancellation is refused: the slot switch is
	// about to be committed to the boot record.
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.State = types.FLASHING
	})
	standby := ctx.slots.GetOtherPartition()
	if err := ctx.slots.SetOtherPartitionStateInProgress(); err != nil {
		res.finalState, res.err = finishPipeline(ctx, types.FAILED, err)
		return
	}
	if err := ctx.record.BeginTrial(standby); err != nil {
		res.finalState, res.err = finishPipeline(ctx, types.FAILED, err)
		return
	}
	publishBootRecord(ctx)

	log.Infof("flashed %s to %s, trial starts next boot", m.Version, standby)
	res.finalState = types.FLASHING
	res.rebootNeeded = true
}

// fetchWithFailover walks the configured sources in order, preferred
// one first, and returns the first manifest that parses. Each source
// gets exactly one request per pass.
func fetchWithFailover(ctx *otaMgrContext, cancelChan chan struct{}) (types.VersionManifest, error) {
	sources := orderSources(ctx.config.Sources, ctx.record.Record().PreferredSource)
	var lastErr error
	for _, src := range sources {
		select {
		case <-cancelChan:
			return types.VersionManifest{}, downloader.ErrCancelled
		default:
		}
		m, err := ctx.fetcher.FetchFrom(context.Background(), src)
		if err != nil {
			log.Warnf("source %s: %s", src.Name, err)
			lastErr = err
			continue
		}
		if err := ctx.record.SetPreferredSource(src.Name); err != nil {
			log.Warnf("persist preferred source: %s", err)
		}
		return m, nil
	}
	if lastErr == nil {
		lastErr = types.NewUpdateError(types.ManifestError,
			"no update sources configured")
	}
	return types.VersionManifest{}, lastErr
}

func orderSources(sources []manifest.Source, preferred string) []manifest.Source {
	if preferred == "" {
		return sources
	}
	ordered := make([]manifest.Source, 0, len(sources))
	for _, src := range sources {
		if src.Name == preferred {
			ordered = append(ordered, src)
		}
	}
	for _, src := range sources {
		if src.Name != preferred {
			ordered = append(ordered, src)
		}
	}
	return ordered
}

// needsUpdate compares the manifest against the running image. The
// binary hash wins over the version when both sides have one; the
// manifest may carry a shortened hash.
func needsUpdate(ctx *otaMgrContext, m types.VersionManifest) bool {
	runningHash := ctx.runningHash
	if m.BinaryHash != "" && len(m.BinaryHash) < len(runningHash) {
		runningHash = runningHash[:len(m.BinaryHash)]
	}
	return manifest.NeedsUpdate(m.Version, m.BinaryHash,
		ctx.runningVersion, runningHash)
}

func downloadToStandby(ctx *otaMgrContext, sessionID uuid.UUID, m types.VersionManifest, cancelChan chan struct{}) error {
	standby := ctx.slots.GetOtherPartition()
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.State = types.DOWNLOADING
	})

	w, err := ctx.slots.OpenStandbyWriter()
	if err != nil {
		return err
	}

	dlStatus := types.DownloadStatus{
		SessionID:  sessionID,
		ImageURL:   m.ImageURL,
		TotalSize:  m.ImageSize,
		TargetSlot: standby,
	}
	publishDownloadStatus(ctx, dlStatus)

	err = ctx.dl.Download(context.Background(), downloader.Request{
		URL:        m.ImageURL,
		Size:       m.ImageSize,
		SHA256:     m.ImageSHA256,
		Dst:        w,
		CancelChan: cancelChan,
		Progress: func(written, total uint64, percent uint) {
			dlStatus.CurrentSize = written
			dlStatus.Progress = percent
			publishDownloadStatus(ctx, dlStatus)
			publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
				status.Progress = percent
			})
		},
	})
	if closeErr := w.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		dlStatus.SetErrorNow(err.Error())
		publishDownloadStatus(ctx, dlStatus)
		return err
	}
	return nil
}

func verifyStandby(ctx *otaMgrContext, m types.VersionManifest, cancelChan chan struct{}) error {
	standby := ctx.slots.GetOtherPartition()
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.State = types.VERIFYING
	})

	r, err := ctx.slots.Reader(standby)
	if err != nil {
		return err
	}
	defer r.Close()
	h, err := ctx.vrf.Validate(r, ctx.slots.SlotCapacity(), cancelChan)
	if err != nil {
		return err
	}
	if !strings.EqualFold(manifest.NormalizeVersion(h.Version),
		manifest.NormalizeVersion(m.Version)) {
		log.Warnf("image header version %q vs manifest %q", h.Version, m.Version)
	}
	return nil
}

// abortToStandbyErase ends a failed or cancelled session and scrubs
// the partial image out of the standby slot
func abortToStandbyErase(ctx *otaMgrContext, err error) (types.UpdateState, error) {
	standby := ctx.slots.GetOtherPartition()
	if eraseErr := ctx.slots.Erase(standby); eraseErr != nil {
		log.Errorf("erase %s after abort: %s", standby, eraseErr)
	}
	if errors.Is(err, downloader.ErrCancelled) || errors.Is(err, verifier.ErrCancelled) {
		publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
			status.State = types.CANCELLED
			status.Progress = 0
		})
		publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
			status.State = types.IDLE
			status.TargetVersion = ""
		})
		return types.CANCELLED, nil
	}
	return finishPipeline(ctx, types.FAILED, err)
}

// finishPipeline records a terminal error state and parks the
// pipeline back at IDLE
func finishPipeline(ctx *otaMgrContext, state types.UpdateState, err error) (types.UpdateState, error) {
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.State = state
		if err != nil {
			status.SetErrorNow(err.Error())
		}
	})
	if state == types.FAILED {
		publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
			status.State = types.IDLE
			status.TargetVersion = ""
			status.Progress = 0
		})
	}
	return state, err
}

func publishDownloadStatus(ctx *otaMgrContext, status types.DownloadStatus) {
	if err := ctx.pubDownloadStatus.Publish(status.Key(), status); err != nil {
		log.Errorf("publishDownloadStatus: %s", err)
	}
}
