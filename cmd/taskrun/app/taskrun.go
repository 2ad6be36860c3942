/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package app

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/logger"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/task"
	"github.com/tasknet-io/tasknet/pkg/utilities"
)

var (
	address     = flag.String("address", "127.0.0.1:43210", "The IP address or hostname and port of the orchestrator to connect to")
	accessToken = flag.String("access-token", "", "The access token to use when connecting to the orchestrator")

	gpus    = flag.Int("gpus", 1, "Number of GPUs the job requires")
	vram    = flag.Uint64("vram", 0, "Minimum VRAM in bytes required per GPU")
	workdir = flag.String("workdir", "", "Working directory for the command on the remote host")

	queueTimeout   = flag.Uint("queue-timeout", 0, "Maximum number of seconds to wait for a GPU")
	onQueueTimeout = flag.String("on-queue-timeout", "fail", "When a queue timeout happens, [fail, wait]")

	envValues      []string
	labelValues    []string
	tolerateValues []string

	errInvalidJobState = errors.New("job state is invalid")
	errCancelled       = errors.New("cancelled")
	errQueueTimeout    = errors.New("queued GPU request timed out")

	exitCode = 0
)

func init() {
	flag.Var(utilities.CommaValue{Value: &envValues}, "env", "Comma separated KEY=VALUE pairs to set in the job environment")
	flag.Var(utilities.CommaValue{Value: &labelValues}, "label", "Comma separated KEY=VALUE pairs a host must carry to run the job")
	flag.Var(utilities.CommaValue{Value: &tolerateValues}, "tolerate", "Comma separated KEY=VALUE host taints the job tolerates")
}

// ExitCode reports the remote command's exit code once Run has returned.
func ExitCode() int {
	return exitCode
}

func parsePairs(values []string, flagName string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	pairs := map[string]string{}
	for _, value := range values {
		key, val, found := strings.Cut(value, "=")
		if !found || key == "" {
			return nil, errors.Newf("--%s requires KEY=VALUE pairs, got '%s'", flagName, value)
		}

		pairs[key] = val
	}

	return pairs, nil
}

func isTerminal(state string) bool {
	switch state {
	case restapi.JobCompleted, restapi.JobFailed, restapi.JobCanceled:
		return true
	}

	return false
}

func waitForJob(api restapi.Client, group task.Group, id string) (restapi.Job, error) {
	job, err := api.GetJobWithContext(group.Ctx(), id)
	if err != nil {
		return restapi.Job{}, err
	}

	if !isTerminal(job.State) {
		logger.Infof("Waiting for job %s", id)

		// Buffered so the timeout task can fire after waitForJob returned
		timeoutChannel := make(chan struct{}, 1)

		if *queueTimeout > 0 {
			group.GoFn("Queue Timeout", func(g task.Group) error {
				timeout := time.NewTicker(time.Duration(*queueTimeout) * time.Second)
				defer timeout.Stop()

				select {
				case <-group.Ctx().Done():
					return nil

				case <-timeout.C:
					timeoutChannel <- struct{}{}
					return nil
				}
			})
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		queued := job.State == restapi.JobQueued

		for !isTerminal(job.State) {
			select {
			case <-group.Ctx().Done():
				err = errCancelled

			case <-timeoutChannel:
				if queued && *onQueueTimeout == "fail" {
					err = errQueueTimeout
				}

			case <-ticker.C:
				job, err = api.GetJobWithContext(group.Ctx(), id)
				queued = queued && job.State == restapi.JobQueued
			}

			if err != nil {
				return restapi.Job{}, err
			}
		}
	}

	return job, nil
}

func Run(group task.Group) error {
	if len(flag.Args()) == 0 {
		return errors.New("usage: taskrun [options] <command> [<command args>]")
	}

	switch *onQueueTimeout {
	case "fail":
	case "wait":
		break

	default:
		return errors.Newf("--on-queue-timeout has an invalid value '%s'", *onQueueTimeout)
	}

	if *gpus <= 0 {
		return errors.New("--gpus must be at least 1")
	}

	env, err := parsePairs(envValues, "env")
	if err != nil {
		return err
	}

	matchLabels, err := parsePairs(labelValues, "label")
	if err != nil {
		return err
	}

	tolerates, err := parsePairs(tolerateValues, "tolerate")
	if err != nil {
		return err
	}

	submit := restapi.SubmitJob{
		Command: flag.Args(),
		Env:     env,
		Workdir: *workdir,
		Requirements: restapi.JobRequirements{
			MatchLabels: matchLabels,
			Tolerates:   tolerates,
		},
	}

	for i := 0; i < *gpus; i++ {
		submit.Requirements.Gpus = append(submit.Requirements.Gpus, restapi.GpuRequirements{
			VramRequired: *vram,
		})
	}

	api := restapi.Client{
		Client:      &http.Client{},
		Address:     *address,
		AccessToken: *accessToken,
	}

	logger.Infof("Connecting to %s", *address)

	id, err := api.SubmitJobWithContext(group.Ctx(), submit)
	if err != nil {
		return err
	}

	job, err := waitForJob(api, group, id)
	if err != nil {
		if errors.Is(err, errQueueTimeout) || errors.Is(err, errCancelled) {
			err = errors.Join(err, api.CancelJob(id))
		}

		return err
	}

	if job.Output != "" {
		fmt.Fprint(os.Stdout, job.Output)
		if !strings.HasSuffix(job.Output, "\n") {
			fmt.Fprintln(os.Stdout)
		}
	}

	switch job.State {
	case restapi.JobCompleted:
		exitCode = 0

	case restapi.JobFailed:
		exitCode = job.ExitCode
		if exitCode == 0 || exitCode == restapi.ExitCodeUnknown {
			exitCode = 1
		}

		logger.Errorf("Job %s failed with exit code %d", id, job.ExitCode)

	case restapi.JobCanceled:
		return errors.Newf("job state is %s", job.State).Wrap(errInvalidJobState)
	}

	return nil
}
