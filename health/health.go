// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package health runs the post-update verification probes. Probes are
// ordered and all of them always run, so a report names every failing
// subsystem instead of just the first one.
package health

import (
	"fmt"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
)

// Probe is one named boolean check
type Probe interface {
	Name() string
	Run() (bool, string)
}

// NewProbe wraps a function as a named probe
func NewProbe(name string, fn func() (bool, string)) Probe {
	return funcProbe{name: name, fn: fn}
}

type funcProbe struct {
	name string
	fn   func() (bool, string)
}

func (p funcProbe) Name() string        { return p.name }
func (p funcProbe) Run() (bool, string) { return p.fn() }

// Runner executes a fixed ordered probe list
type Runner struct {
	log    *base.LogObject
	probes []Probe
}

// NewRunner builds a runner over the given probes
func NewRunner(log *base.LogObject, probes ...Probe) *Runner {
	return &Runner{log: log, probes: probes}
}

// Run executes every probe in order and aggregates the verdict. A
// probe panic is recorded as a failure, not propagated; a wedged
// subsystem must not take the health pass down with it.
func (r *Runner) Run() types.HealthReport {
	report := types.HealthReport{
		Passed:  true,
		RunTime: time.Now(),
	}
	for _, probe := range r.probes {
		passed, detail := r.runOne(probe)
		if !passed {
			report.Passed = false
			r.log.Warnf("health: probe %s failed: %s", probe.Name(), detail)
		} else {
			r.log.Debugf("health: probe %s passed", probe.Name())
		}
		report.Results = append(report.Results, types.HealthProbeResult{
			Name:   probe.Name(),
			Passed: passed,
			Detail: detail,
		})
	}
	return report
}

func (r *Runner) runOne(probe Probe) (passed bool, detail string) {
	defer func() {
		if rec := recover(); rec != nil {
			passed = false
			detail = fmt.Sprintf("probe panic: %v", rec)
		}
	}()
	return probe.Run()
}
