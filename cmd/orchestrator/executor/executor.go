/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package executor

import (
	"context"
	"encoding/json"
	"flag"
	"sync"
	"time"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/registry"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/logger"
	"github.com/tasknet-io/tasknet/pkg/pool"
	"github.com/tasknet-io/tasknet/pkg/remote"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/task"
	"github.com/tasknet-io/tasknet/pkg/utilities"
)

const connectTimeout = 30 * time.Second

var (
	probeCommand = flag.String("probe-command", "gpuprobe", "Command executed on newly registered hosts to discover their GPUs")
)

// channel is the slice of remote.Channel the executor needs, split out so
// tests can substitute the SSH transport.
type channel interface {
	pool.Channel
	Execute(ctx context.Context, job restapi.Job) (remote.ExecuteResult, error)
}

type openChannelFn func(ctx context.Context, host *remote.Host) (channel, error)

// Executor runs assigned jobs on their hosts. Each host gets one channel
// pool; jobs acquire a channel from the pool for their lifetime and
// release it when they finish, so SSH connections are reused across jobs.
type Executor struct {
	storage  storage.Storage
	registry *registry.Registry

	open openChannelFn

	mutex sync.Mutex
	pools map[string]*pool.Pool[channel]

	activeJobs *utilities.ConcurrentMap[string, context.CancelFunc]
	probing    *utilities.ConcurrentMap[string, struct{}]
}

func NewExecutor(storage storage.Storage, registry *registry.Registry) *Executor {
	return &Executor{
		storage:  storage,
		registry: registry,
		open: func(ctx context.Context, host *remote.Host) (channel, error) {
			return remote.OpenChannel(ctx, host)
		},
		pools:      map[string]*pool.Pool[channel]{},
		activeJobs: utilities.NewConcurrentMap[string, context.CancelFunc](),
		probing:    utilities.NewConcurrentMap[string, struct{}](),
	}
}

func (executor *Executor) Run(group task.Group) error {
	// Jobs run on their own manager so teardown can wait for them before
	// closing the channel pools underneath
	jobs := task.NewTaskManager(group.Ctx())

	err := executor.update(jobs)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for err == nil {
		select {
		case <-group.Ctx().Done():
			err = jobs.Wait()
			executor.releaseAllPools()
			return err

		case <-ticker.C:
			err = executor.update(jobs)
		}
	}

	jobs.Cancel()
	err = errors.Join(err, jobs.Wait())
	executor.releaseAllPools()
	return err
}

func (executor *Executor) poolFor(host *remote.Host) *pool.Pool[channel] {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()

	hostPool, present := executor.pools[host.Id]
	if !present {
		name := host.Name
		if name == "" {
			name = host.Id
		}

		hostPool = pool.NewPool[channel](name, func(ctx context.Context) (channel, error) {
			dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()

			return executor.open(dialCtx, host)
		})
		executor.pools[host.Id] = hostPool
	}

	return hostPool
}

func (executor *Executor) releaseAllPools() {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()

	for _, hostPool := range executor.pools {
		hostPool.ReleaseAll()
	}

	executor.pools = map[string]*pool.Pool[channel]{}
}

func (executor *Executor) update(jobs *task.TaskManager) error {
	executor.cancelRequestedJobs()

	err := executor.probeHosts(jobs)
	if err != nil {
		return err
	}

	iterator, err := executor.storage.GetAssignedJobsIterator()
	if err != nil {
		return err
	}

	for iterator.Next() {
		job := iterator.Value()

		config, err_ := executor.storage.GetHostById(job.HostId)
		if err_ != nil {
			err = errors.Join(err, err_)
			continue
		}

		host, err_ := executor.registry.GetHost(config)
		if err_ != nil {
			err = errors.Join(err, err_)
			continue
		}

		// Claim the job before launching so the next pass skips it
		err_ = executor.storage.UpdateJob(restapi.JobUpdate{
			Id:    job.Id,
			State: restapi.JobRunning,
		})
		if err_ != nil {
			err = errors.Join(err, err_)
			continue
		}
		job.State = restapi.JobRunning

		launchedJob := job
		jobs.GoFn("Job "+job.Id, func(group task.Group) error {
			executor.runJob(group.Ctx(), launchedJob, host)
			return nil
		})
	}

	return err
}

// probeHosts discovers the GPU inventory of active hosts that registered
// without one, by running the probe command over a pooled channel.
func (executor *Executor) probeHosts(jobs *task.TaskManager) error {
	iterator, err := executor.storage.GetHosts()
	if err != nil {
		return err
	}

	for iterator.Next() {
		config := iterator.Value()
		if config.State != restapi.HostActive || len(config.Gpus) > 0 {
			continue
		}

		if _, busy := executor.probing.Get(config.Id); busy {
			continue
		}
		executor.probing.Set(config.Id, struct{}{})

		probed := config
		jobs.GoFn("Probe "+config.Id, func(group task.Group) error {
			defer executor.probing.Delete(probed.Id)
			executor.probeHost(group.Ctx(), probed)
			return nil
		})
	}

	return nil
}

func (executor *Executor) probeHost(ctx context.Context, config restapi.Host) {
	host, err := executor.registry.GetHost(config)
	if err != nil {
		logger.Errorf("host %s: %v", config.Id, err)
		return
	}

	hostPool := executor.poolFor(host)
	consumerId := "probe-" + config.Id

	probeChannel, err := hostPool.Acquire(ctx, consumerId)
	if err != nil {
		logger.Errorf("host %s: %v", config.Id, err)

		err = executor.storage.SetHostState(config.Id, restapi.HostUnreachable)
		if err != nil {
			logger.Errorf("host %s: %v", config.Id, err)
		}
		return
	}
	defer func() {
		err := hostPool.Release(consumerId)
		if err != nil {
			logger.Errorf("host %s: %v", config.Id, err)
		}
	}()

	result, err := probeChannel.Execute(ctx, restapi.Job{
		Id:      consumerId,
		Command: []string{*probeCommand},
	})
	if err != nil {
		logger.Warningf("host %s: gpu probe failed, %v", config.Id, err)
		return
	}

	var gpus []restapi.Gpu
	err = json.Unmarshal([]byte(result.Output), &gpus)
	if err != nil {
		logger.Warningf("host %s: gpu probe output is not valid, %v", config.Id, err)
		return
	}

	if len(gpus) == 0 {
		logger.Warningf("host %s: gpu probe found no gpus", config.Id)
		return
	}

	err = executor.storage.UpdateHostGpus(config.Id, gpus)
	if err != nil {
		logger.Errorf("host %s: %v", config.Id, err)
		return
	}

	// The cached descriptor was built without the inventory
	executor.registry.Forget(config.Id)

	logger.Infof("host %s: discovered %d gpus", config.Id, len(gpus))
}

// cancelRequestedJobs interrupts running jobs whose state moved to
// canceling since the last pass.
func (executor *Executor) cancelRequestedJobs() {
	executor.activeJobs.Foreach(func(id string, cancel context.CancelFunc) bool {
		job, err := executor.storage.GetJobById(id)
		if err != nil {
			logger.Warningf("unable to check job %s for cancellation, %v", id, err)
			return true
		}

		if job.State == restapi.JobCanceling {
			cancel()
		}

		return true
	})
}

func (executor *Executor) runJob(ctx context.Context, job restapi.Job, host *remote.Host) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	executor.activeJobs.Set(job.Id, cancel)
	defer executor.activeJobs.Delete(job.Id)

	defer host.ReleaseJobGpus(job.Gpus)

	hostPool := executor.poolFor(host)

	jobChannel, err := hostPool.Acquire(jobCtx, job.Id)
	if err != nil {
		logger.Errorf("job %s: %v", job.Id, err)
		executor.finishJob(job.Id, restapi.JobUpdate{
			Id:         job.Id,
			State:      restapi.JobFailed,
			ExitStatus: restapi.ExitStatusFailure,
			ExitCode:   restapi.ExitCodeUnknown,
			Output:     err.Error(),
		})
		return
	}
	defer func() {
		err := hostPool.Release(job.Id)
		if err != nil {
			logger.Errorf("job %s: %v", job.Id, err)
		}
	}()

	result, err := jobChannel.Execute(jobCtx, job)

	update := restapi.JobUpdate{
		Id:       job.Id,
		ExitCode: result.ExitCode,
		Output:   result.Output,
	}

	switch {
	case jobCtx.Err() != nil:
		update.State = restapi.JobCanceled
		update.ExitStatus = restapi.ExitStatusCanceled

	case err != nil:
		update.State = restapi.JobFailed
		update.ExitStatus = restapi.ExitStatusFailure

	default:
		update.State = restapi.JobCompleted
		update.ExitStatus = restapi.ExitStatusSuccess
	}

	executor.finishJob(job.Id, update)
}

func (executor *Executor) finishJob(id string, update restapi.JobUpdate) {
	err := executor.storage.UpdateJob(update)
	if err != nil {
		logger.Errorf("job %s: unable to record final state, %v", id, err)
	}
}
