/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/registry"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/pkg/logger"
	"github.com/tasknet-io/tasknet/pkg/task"
	"github.com/tasknet-io/tasknet/pkg/utilities"
)

// Scheduler drains the queued-job backlog, placing each job on an active
// host with the required GPUs free under that host's policy.
type Scheduler struct {
	storage  storage.Storage
	registry *registry.Registry

	lastPass *utilities.ConcurrentVariable[time.Time]
}

func NewScheduler(storage storage.Storage, registry *registry.Registry) *Scheduler {
	return &Scheduler{
		storage:  storage,
		registry: registry,
		lastPass: utilities.NewConcurrentVariable[time.Time](),
	}
}

// LastPass reports when the scheduler last finished a placement pass.
func (scheduler *Scheduler) LastPass() time.Time {
	return scheduler.lastPass.Get()
}

func (scheduler *Scheduler) Run(group task.Group) error {
	err := scheduler.update(group.Ctx())
	if err == nil {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for err == nil {
			select {
			case <-group.Ctx().Done():
				return err

			case <-ticker.C:
				err = scheduler.update(group.Ctx())
			}
		}
	}

	return err
}

func validateJob(job storage.QueuedJob) error {
	if len(job.Requirements.Gpus) == 0 {
		return errors.New("job must request at least one GPU")
	}

	return nil
}

func (scheduler *Scheduler) update(ctx context.Context) error {
	jobIterator, err := scheduler.storage.GetQueuedJobsIterator()
	if err != nil {
		return err
	}

	for jobIterator.Next() {
		select {
		case <-ctx.Done():
			return nil

		default:
			job := jobIterator.Value()

			err_ := validateJob(job)
			if err_ != nil {
				logger.Debugf("invalid job %s, %s", job.Id, err_.Error())
				err = errors.Join(err, scheduler.storage.CancelJob(job.Id))
				continue
			}

			err = errors.Join(err, scheduler.place(job))
		}
	}

	scheduler.lastPass.Set(time.Now())

	return err
}

func (scheduler *Scheduler) place(job storage.QueuedJob) error {
	hostIterator, err := scheduler.storage.GetAvailableHostsMatching(
		storage.TotalVramRequired(job.Requirements),
		job.Requirements.MatchLabels,
		job.Requirements.Tolerates)
	if err != nil {
		return err
	}

	for hostIterator.Next() {
		config := hostIterator.Value()

		host, err_ := scheduler.registry.GetHost(config)
		if err_ != nil {
			err = errors.Join(err, err_)
			continue
		}

		selected, err_ := host.ReserveGpus(job.Requirements.Gpus)
		if err_ != nil {
			// Host has no fitting GPUs free right now, try the next one
			continue
		}

		logger.Debugf("assigning %s to %s", job.Id, host.Id)

		err_ = scheduler.storage.AssignJob(job.Id, host.Id, selected.GetGpus())
		if err_ != nil {
			host.ReleaseGpus(selected)
			err = errors.Join(err, err_)
			continue
		}

		return err
	}

	// A job with no host this pass stays queued for the next one
	return err
}
