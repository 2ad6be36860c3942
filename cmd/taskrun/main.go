/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package main

import (
	"os"

	"github.com/tasknet-io/tasknet/cmd/internal/build"
	"github.com/tasknet-io/tasknet/cmd/taskrun/app"
	"github.com/tasknet-io/tasknet/pkg/appmain"
	"github.com/tasknet-io/tasknet/pkg/task"
)

func main() {
	appmain.Run("taskrun", build.Version, func(group task.Group) error {
		err := app.Run(group)
		group.Cancel()
		return err
	})

	os.Exit(app.ExitCode())
}
