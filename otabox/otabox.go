// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// otabox is the single binary hosting the device agents. Which agent
// runs is decided by the basename it is invoked under, so hardlinks or
// symlinks per agent are enough to deploy.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Stani56/Stanis-Clock-sub004/agentlog"
	"github.com/Stani56/Stanis-Clock-sub004/cmd/otamgr"
	"github.com/Stani56/Stanis-Clock-sub004/pubsub"
)

func main() {
	basename := filepath.Base(os.Args[0])
	if basename == "otabox" && len(os.Args) > 1 {
		basename = os.Args[1]
	}

	logger, log := agentlog.Init(basename)
	ps := pubsub.New(log)

	var retval int
	switch basename {
	case "otamgr":
		retval = otamgr.Run(ps, logger, log)
	default:
		fmt.Printf("Unknown agent %s\n", basename)
		retval = 1
	}
	os.Exit(retval)
}
