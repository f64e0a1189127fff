// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = base.NewSourceLogObject(logrus.StandardLogger(), "pidfile_test", 0)

func TestCheckAndCreatePidfile(t *testing.T) {
	runDir = t.TempDir()

	exists, description := CheckProcessExists(testLog, "otamgr")
	assert.False(t, exists, description)

	require.NoError(t, CheckAndCreatePidfile(testLog, "otamgr"))
	b, err := os.ReadFile(filepath.Join(runDir, "otamgr.pid"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	// our own pid is alive, so a second instance must be refused
	err = CheckAndCreatePidfile(testLog, "otamgr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestStalePidfileIsReplaced(t *testing.T) {
	runDir = t.TempDir()

	// pid from a long-dead process; the max pid space makes a live
	// collision implausible
	stale := filepath.Join(runDir, "otamgr.pid")
	require.NoError(t, os.WriteFile(stale, []byte("4194300"), 0644))

	require.NoError(t, CheckAndCreatePidfile(testLog, "otamgr"))
	b, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))
}

func TestGarbagePidfile(t *testing.T) {
	runDir = t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(runDir, "otamgr.pid"), []byte("not a pid"), 0644))

	exists, description := CheckProcessExists(testLog, "otamgr")
	assert.False(t, exists)
	assert.Contains(t, description, "unparseable")
}
