// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package otamgr is the firmware update agent. It owns the boot-time
// commit/rollback decision, watches for update commands, and runs the
// check/download/verify/flash pipeline against the standby slot.
package otamgr

import (
	"sync"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/bootrecord"
	"github.com/Stani56/Stanis-Clock-sub004/downloader"
	"github.com/Stani56/Stanis-Clock-sub004/flash"
	"github.com/Stani56/Stanis-Clock-sub004/health"
	"github.com/Stani56/Stanis-Clock-sub004/manifest"
	"github.com/Stani56/Stanis-Clock-sub004/pidfile"
	"github.com/Stani56/Stanis-Clock-sub004/pubsub"
	"github.com/Stani56/Stanis-Clock-sub004/types"
	"github.com/Stani56/Stanis-Clock-sub004/verifier"
	"github.com/sirupsen/logrus"
)

const (
	agentName = "otamgr"
	// Time limits for event loop handlers; first match loglevel
	// and then an even larger process time
	errorTime   = 3 * time.Minute
	warningTime = 40 * time.Second
)

var logger *logrus.Logger
var log *base.LogObject

// Config carries the device-specific wiring for the agent
type Config struct {
	PersistDir     string
	SlotDir        string
	SlotCapacity   int64
	HardwareTarget string
	Sources        []manifest.Source
	CheckInterval  time.Duration
	// ConnectivityAddr is the host:port the connectivity probe dials
	ConnectivityAddr string
	// DisplayBusPath is the display controller device node; empty
	// skips the probe on hardware without one
	DisplayBusPath string
	MinFreeMemory  uint64
	// RequestReboot is invoked when the agent needs the device to
	// restart; it must not block
	RequestReboot func(reason string)
}

// DefaultConfig is the production wiring
func DefaultConfig() Config {
	return Config{
		PersistDir:       "/persist/otamgr",
		SlotDir:          "/persist/slots",
		SlotCapacity:     4 * 1024 * 1024,
		HardwareTarget:   "wclk-v2",
		CheckInterval:    6 * time.Hour,
		ConnectivityAddr: "updates.stanisclock.net:443",
		DisplayBusPath:   "/dev/i2c-1",
		MinFreeMemory:    8 * 1024 * 1024,
		Sources: []manifest.Source{
			{Name: "primary", URL: "https://updates.stanisclock.net/firmware/manifest.json"},
			{Name: "mirror", URL: "https://mirror.stanisclock.net/firmware/manifest.json"},
		},
	}
}

type otaMgrContext struct {
	sync.Mutex
	ps     *pubsub.PubSub
	config Config

	record  *bootrecord.Store
	slots   *flash.Manager
	fetcher *manifest.Fetcher
	dl      *downloader.Downloader
	vrf     *verifier.Verifier
	checks  *health.Runner

	pubUpdateStatus   pubsub.Publication
	pubDownloadStatus pubsub.Publication
	pubBootRecord     pubsub.Publication
	pubHealthReport   pubsub.Publication
	subUpdateCommand  pubsub.Subscription

	status         types.UpdateStatus
	runningVersion string
	runningHash    string

	updateInProgress bool
	cancelChan       chan struct{}
	resultChan       chan pipelineResult
}

// Run is the agent entry point
func Run(ps *pubsub.PubSub, loggerArg *logrus.Logger, logArg *base.LogObject) int {
	logger = loggerArg
	log = logArg
	return runWithConfig(ps, DefaultConfig(), true)
}

func runWithConfig(ps *pubsub.PubSub, config Config, createPidfile bool) int {
	if createPidfile {
		if err := pidfile.CheckAndCreatePidfile(log, agentName); err != nil {
			log.Fatal(err)
		}
	}
	log.Infof("Starting %s", agentName)

	// The attempt counter and the threshold rollback come before
	// anything else: if the trial image breaks the init below, the
	// counter must still have advanced and the rollback reboot must
	// already be requested.
	record, runningSlot, rolledBack, err := bootDecision(config)
	if err != nil {
		log.Errorf("%s boot decision: %s", agentName, err)
		return 1
	}

	ctx, err := initContext(ps, config, record, runningSlot)
	if err != nil {
		log.Errorf("%s init: %s", agentName, err)
		return 1
	}

	if err := handleBootSequence(ctx, rolledBack, runningSlot); err != nil {
		log.Errorf("%s boot sequence: %s", agentName, err)
		return 1
	}

	// Run a periodic timer so we always update StillRunning
	stillRunning := time.NewTicker(25 * time.Second)
	ps.StillRunning(agentName, warningTime, errorTime)

	checkTicker := time.NewTicker(ctx.config.CheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case change := <-ctx.subUpdateCommand.MsgChan():
			ctx.subUpdateCommand.ProcessChange(change)

		case res := <-ctx.resultChan:
			handlePipelineResult(ctx, res)

		case <-checkTicker.C:
			startPipeline(ctx, types.CommandCheck)

		case <-stillRunning.C:
		}
		ps.StillRunning(agentName, warningTime, errorTime)
	}
}

// initContext builds everything past the boot decision. runningSlot is
// the slot the device actually booted from, which after a rollback is
// no longer the record's active slot.
func initContext(ps *pubsub.PubSub, config Config, record *bootrecord.Store,
	runningSlot types.SlotLabel) (*otaMgrContext, error) {
	ctx := &otaMgrContext{
		ps:         ps,
		config:     config,
		record:     record,
		resultChan: make(chan pipelineResult, 1),
	}

	slots, err := flash.NewManager(log, config.SlotDir, config.SlotCapacity,
		runningSlot)
	if err != nil {
		return nil, err
	}
	ctx.slots = slots

	ctx.fetcher = manifest.NewFetcher(log, nil)
	ctx.dl = downloader.New(log)
	ctx.vrf = verifier.New(log, config.HardwareTarget)
	probes := []health.Probe{
		health.ConnectivityProbe(config.ConnectivityAddr, 10*time.Second),
		health.ClockProbe(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	if config.DisplayBusPath != "" {
		probes = append(probes, health.DisplayBusProbe(config.DisplayBusPath))
	}
	probes = append(probes,
		health.MemoryProbe(config.MinFreeMemory),
		health.SlotStateProbe(slots))
	ctx.checks = health.NewRunner(log, probes...)

	pubUpdateStatus, err := ps.NewPublication(pubsub.PublicationOptions{
		AgentName: agentName,
		TopicType: types.UpdateStatus{},
	})
	if err != nil {
		return nil, err
	}
	ctx.pubUpdateStatus = pubUpdateStatus

	pubDownloadStatus, err := ps.NewPublication(pubsub.PublicationOptions{
		AgentName: agentName,
		TopicType: types.DownloadStatus{},
	})
	if err != nil {
		return nil, err
	}
	ctx.pubDownloadStatus = pubDownloadStatus

	pubBootRecord, err := ps.NewPublication(pubsub.PublicationOptions{
		AgentName: agentName,
		TopicType: types.BootRecord{},
	})
	if err != nil {
		return nil, err
	}
	ctx.pubBootRecord = pubBootRecord

	pubHealthReport, err := ps.NewPublication(pubsub.PublicationOptions{
		AgentName: agentName,
		TopicType: types.HealthReport{},
	})
	if err != nil {
		return nil, err
	}
	ctx.pubHealthReport = pubHealthReport

	subUpdateCommand, err := ps.NewSubscription(pubsub.SubscriptionOptions{
		CreateHandler: handleCommandCreate,
		ModifyHandler: handleCommandModify,
		WarningTime:   warningTime,
		ErrorTime:     errorTime,
		TopicImpl:     types.UpdateCommand{},
		Activate:      true,
		Ctx:           ctx,
		MyAgentName:   agentName,
	})
	if err != nil {
		return nil, err
	}
	ctx.subUpdateCommand = subUpdateCommand

	initRunningImage(ctx)

	ctx.status = types.UpdateStatus{
		State:          types.IDLE,
		RunningVersion: ctx.runningVersion,
		ActiveSlot:     slots.GetCurrentPartition(),
		StandbySlot:    slots.GetOtherPartition(),
	}
	return ctx, nil
}

// initRunningImage records the version and payload hash of the image
// we booted from, for manifest comparison
func initRunningImage(ctx *otaMgrContext) {
	current := ctx.slots.GetCurrentPartition()
	info, err := ctx.slots.SlotInfo(current)
	if err != nil {
		log.Warnf("running slot %s unreadable: %s", current, err)
		return
	}
	ctx.runningVersion = info.Version

	r, err := ctx.slots.Reader(current)
	if err != nil {
		log.Warnf("running slot %s unreadable: %s", current, err)
		return
	}
	defer r.Close()
	hash, err := downloader.ComputeShaStream(r)
	if err != nil {
		log.Warnf("running slot %s hash: %s", current, err)
		return
	}
	ctx.runningHash = hash
	log.Infof("running image: slot %s version %q hash %.8s",
		current, ctx.runningVersion, ctx.runningHash)
}

func handleCommandCreate(ctxArg interface{}, key string, configArg interface{}) {
	handleCommandImpl(ctxArg, key, configArg)
}

func handleCommandModify(ctxArg interface{}, key string, configArg interface{}) {
	handleCommandImpl(ctxArg, key, configArg)
}

func handleCommandImpl(ctxArg interface{}, key string, configArg interface{}) {
	ctx := ctxArg.(*otaMgrContext)
	cmd := configArg.(types.UpdateCommand)
	log.Infof("handleCommandImpl: %s request %s", cmd.Command, cmd.RequestID)

	switch cmd.Command {
	case types.CommandCheck, types.CommandUpdate:
		startPipeline(ctx, cmd.Command)
	case types.CommandCancel:
		cancelPipeline(ctx)
	default:
		log.Errorf("handleCommandImpl: unknown command %q", cmd.Command)
	}
}

// startPipeline launches the pipeline goroutine unless one is already
// running; only the main loop calls this, so the busy flag needs no
// extra synchronization beyond the context lock used by the publisher
// side.
func startPipeline(ctx *otaMgrContext, mode types.UpdateCommandOp) {
	if ctx.updateInProgress {
		err := types.NewUpdateError(types.StateError,
			"update already in progress")
		log.Warnf("startPipeline(%s): %s", mode, err)
		publishStatusError(ctx, err)
		return
	}
	ctx.updateInProgress = true
	ctx.cancelChan = make(chan struct{})
	go runPipeline(ctx, mode, ctx.cancelChan)
}

// cancelPipeline stops an in-flight pipeline at the next chunk
// boundary. Once flashing has begun the standby slot is being
// committed and there is nothing left to safely cancel.
func cancelPipeline(ctx *otaMgrContext) {
	if !ctx.updateInProgress {
		err := types.NewUpdateError(types.StateError, "nothing to cancel")
		log.Warnf("cancelPipeline: %s", err)
		publishStatusError(ctx, err)
		return
	}
	ctx.Lock()
	state := ctx.status.State
	ctx.Unlock()
	if state == types.FLASHING {
		err := types.NewUpdateError(types.StateError,
			"nothing to cancel: flashing already started")
		log.Warnf("cancelPipeline: %s", err)
		publishStatusError(ctx, err)
		return
	}
	select {
	case <-ctx.cancelChan:
		// already closed
	default:
		close(ctx.cancelChan)
	}
	log.Infof("cancelPipeline: requested in state %s", state)
}

func handlePipelineResult(ctx *otaMgrContext, res pipelineResult) {
	ctx.updateInProgress = false
	ctx.cancelChan = nil
	if res.err != nil {
		log.Errorf("pipeline(%s) ended %s: %s",
			res.sessionID, res.finalState, res.err)
	} else {
		log.Infof("pipeline(%s) ended %s", res.sessionID, res.finalState)
	}
	if res.rebootNeeded {
		requestReboot(ctx, "applying firmware update "+res.targetVersion)
	}
}

func requestReboot(ctx *otaMgrContext, reason string) {
	log.Warnf("reboot requested: %s", reason)
	if ctx.config.RequestReboot != nil {
		ctx.config.RequestReboot(reason)
	}
}

// publishUpdateStatus mutates the shared status under the lock and
// publishes the copy
func publishUpdateStatus(ctx *otaMgrContext, mutate func(*types.UpdateStatus)) {
	ctx.Lock()
	mutate(&ctx.status)
	status := ctx.status
	ctx.Unlock()
	if err := ctx.pubUpdateStatus.Publish(status.Key(), status); err != nil {
		log.Errorf("publishUpdateStatus: %s", err)
	}
}

func publishStatusError(ctx *otaMgrContext, err error) {
	publishUpdateStatus(ctx, func(status *types.UpdateStatus) {
		status.SetErrorNow(err.Error())
	})
}

func publishBootRecord(ctx *otaMgrContext) {
	rec := ctx.record.Record()
	if err := ctx.pubBootRecord.Publish(rec.Key(), rec); err != nil {
		log.Errorf("publishBootRecord: %s", err)
	}
}
