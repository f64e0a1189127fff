// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package pidfile keeps a single instance of each agent running by
// recording its pid under /run.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/Stani56/Stanis-Clock-sub004/base"
)

var runDir = "/run"

func pidfilePath(agentName string) string {
	return filepath.Join(runDir, agentName+".pid")
}

// CheckProcessExists reports whether a previous instance of the agent
// is still alive, with a description of what the pidfile showed.
func CheckProcessExists(log *base.LogObject, agentName string) (bool, string) {
	path := pidfilePath(agentName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("no pidfile at %s", path)
		}
		log.Fatalf("CheckProcessExists: %s", err)
		return false, err.Error()
	}
	log.Infof("CheckProcessExists: found %s", path)
	oldPid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return false, fmt.Sprintf("unparseable pid in %s: %s", path, err)
	}
	// Signal 0 probes the process without touching it
	if p, err := os.FindProcess(oldPid); err == nil {
		if p.Signal(syscall.Signal(0)) == nil {
			return true, fmt.Sprintf("pid %d from %s is alive", oldPid, path)
		}
	}
	return false, fmt.Sprintf("pid %d from %s is gone", oldPid, path)
}

// CheckAndCreatePidfile refuses to start while a previous instance is
// alive and records our pid otherwise, overwriting a stale file.
func CheckAndCreatePidfile(log *base.LogObject, agentName string) error {
	if exists, description := CheckProcessExists(log, agentName); exists {
		return fmt.Errorf("%s already running: %s", agentName, description)
	}
	path := pidfilePath(agentName)
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0644); err != nil {
		log.Fatalf("CheckAndCreatePidfile: %s", err)
	}
	return nil
}
