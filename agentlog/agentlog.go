// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package agentlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/sirupsen/logrus"
)

const reasonFile = "reboot-reason"

// RebootReasonDir is where a fatal writes its reason before the
// process dies, so the next boot can report why the previous run ended.
var RebootReasonDir = "/persist/log"

// FatalHook is used make sure we save the fatal and panic strings to a file
type FatalHook struct {
	agentName string
	agentPid  int
}

// Fire saves the reason for the logrus.Fatal or logrus.Panic
func (hook *FatalHook) Fire(entry *logrus.Entry) error {
	reason := fmt.Sprintf("fatal: agent %s[%d]: %s", hook.agentName,
		hook.agentPid, entry.Message)
	RebootReason(reason)
	return nil
}

// Levels installs the FatalHook for Fatal and Panic levels
func (hook *FatalHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.FatalLevel,
		logrus.PanicLevel,
	}
}

// SourceHook is used to add source and pid if not already set
type SourceHook struct {
	agentName string
	agentPid  int
}

// Fire adds source and pid if not already set
func (hook *SourceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["source"]; !ok {
		entry.Data["source"] = hook.agentName
	}
	if _, ok := entry.Data["pid"]; !ok {
		entry.Data["pid"] = hook.agentPid
	}
	return nil
}

// Levels installs the SourceHook for all levels
func (hook *SourceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// SkipCallerHook is used to skip to the "base" package entry in the stack
type SkipCallerHook struct {
}

// Fire does the skipping
func (hook *SkipCallerHook) Fire(entry *logrus.Entry) error {
	const maximumCallerDepth = 25
	if entry.Caller != nil {
		pcs := make([]uintptr, maximumCallerDepth)
		depth := runtime.Callers(0, pcs)
		frames := runtime.CallersFrames(pcs[:depth])

		next := false
		for f, again := frames.Next(); again; f, again = frames.Next() {
			if f == *entry.Caller {
				pkg := getPackageName(f.Function)
				if strings.HasSuffix(pkg, "/base") {
					next = true
					continue
				}
				break
			}
			if next {
				entry.Caller = &f
				break
			}
		}
	}
	return nil
}

// Levels installs the SkipCallerHook for all levels
func (hook *SkipCallerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// getPackageName reduces a fully qualified function name to the package name
// From logrus
func getPackageName(f string) string {
	for {
		lastPeriod := strings.LastIndex(f, ".")
		lastSlash := strings.LastIndex(f, "/")
		if lastPeriod > lastSlash {
			f = f[:lastPeriod]
		} else {
			break
		}
	}
	return f
}

// RebootReason records the reason for an upcoming restart. Best effort;
// a device without a writable persist dir still gets the log line.
func RebootReason(reason string) {
	filename := filepath.Join(RebootReasonDir, reasonFile)
	dateStr := time.Now().Format(time.RFC3339Nano)
	err := os.MkdirAll(RebootReasonDir, 0755)
	if err == nil {
		s := fmt.Sprintf("Reboot from agent at %s: %s\n", dateStr, reason)
		err = os.WriteFile(filename, []byte(s), 0644)
	}
	if err != nil {
		logrus.Errorf("RebootReason: %s", err)
	}
}

// GetRebootReason returns the recorded reason from the previous run, if any
func GetRebootReason() string {
	filename := filepath.Join(RebootReasonDir, reasonFile)
	content, err := os.ReadFile(filename)
	if err != nil {
		return ""
	}
	return string(content)
}

// DiscardRebootReason removes the recorded reason
func DiscardRebootReason() {
	filename := filepath.Join(RebootReasonDir, reasonFile)
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		logrus.Errorf("DiscardRebootReason: %s", err)
	}
}

// Init provides both a logger and a logObject
func Init(agentName string) (*logrus.Logger, *base.LogObject) {
	agentPid := os.Getpid()
	logger := logrus.New()
	// Report nano timestamps
	formatter := logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	}
	logger.SetFormatter(&formatter)
	logger.SetReportCaller(true)
	log := base.NewSourceLogObject(logger, agentName, agentPid)

	fatalHook := new(FatalHook)
	fatalHook.agentName = agentName
	fatalHook.agentPid = agentPid
	logger.AddHook(fatalHook)

	sourceHook := new(SourceHook)
	sourceHook.agentName = agentName
	sourceHook.agentPid = agentPid
	logger.AddHook(sourceHook)

	skipHook := new(SkipCallerHook)
	logger.AddHook(skipHook)

	return logger, log
}
