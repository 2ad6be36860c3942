/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package appmain

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tasknet-io/tasknet/pkg/logger"
	"github.com/tasknet-io/tasknet/pkg/sentry"
	"github.com/tasknet-io/tasknet/pkg/task"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

var (
	printVersion = flag.Bool("version", false, "Prints the version and exits")
)

func Run(name string, version string, logic task.TaskFn) {
	flag.Parse()

	var err error

	if *printVersion {
		fmt.Fprintln(os.Stdout, version)
		os.Exit(ExitSuccess)
	}

	if err = godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ExitFailure)
		}
	}

	if err = sentry.Initialize(sentry.ClientOptions{}); err == nil {
		defer sentry.Close()
		err = logger.Configure()
		if err == nil {
			defer logger.Close()
			logger.Info(name, ", v", version)

			ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

			taskManager := task.NewTaskManager(ctx)
			taskManager.GoFn("AppMain", logic)
			err = taskManager.Wait()
			if err != nil {
				logger.Error(err)
			}
		}
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitFailure)
	}
}
