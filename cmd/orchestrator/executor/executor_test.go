/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/registry"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage/memdb"
	"github.com/tasknet-io/tasknet/pkg/remote"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/task"
)

type fakeChannel struct {
	free atomic.Int64

	result  remote.ExecuteResult
	err     error
	started chan string
	block   bool
}

func (channel *fakeChannel) TryReserveSlot() bool {
	for {
		free := channel.free.Load()
		if free <= 0 {
			return false
		}
		if channel.free.CompareAndSwap(free, free-1) {
			return true
		}
	}
}

func (channel *fakeChannel) ReleaseSlot() {
	channel.free.Add(1)
}

func (channel *fakeChannel) Close() error {
	return nil
}

func (channel *fakeChannel) Execute(ctx context.Context, job restapi.Job) (remote.ExecuteResult, error) {
	if channel.started != nil {
		channel.started <- job.Id
	}

	if channel.block {
		<-ctx.Done()
		return remote.ExecuteResult{ExitCode: restapi.ExitCodeUnknown}, ctx.Err()
	}

	return channel.result, channel.err
}

type fixture struct {
	executor *Executor
	storage  storage.Storage
	registry *registry.Registry

	opened atomic.Int64
}

func newFixture(t *testing.T, template *fakeChannel) *fixture {
	db, err := memdb.OpenStorage(context.Background())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	reg := registry.NewRegistry(db)

	f := &fixture{
		executor: NewExecutor(db, reg),
		storage:  db,
		registry: reg,
	}

	f.executor.open = func(ctx context.Context, host *remote.Host) (channel, error) {
		f.opened.Add(1)

		c := &fakeChannel{
			result:  template.result,
			err:     template.err,
			started: template.started,
			block:   template.block,
		}
		c.free.Store(int64(host.ChannelSlots))
		return c, nil
	}

	return f
}

func (f *fixture) assignJob(t *testing.T, hostId string) string {
	t.Helper()

	jobId, err := f.storage.SubmitJob(restapi.SubmitJob{
		Command: []string{"nvidia-smi"},
		Requirements: restapi.JobRequirements{
			Gpus: []restapi.GpuRequirements{{VramRequired: 1024}},
		},
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	err = f.storage.AssignJob(jobId, hostId, []restapi.JobGpu{{Index: 0, VramRequired: 1024}})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	return jobId
}

func (f *fixture) registerHost(t *testing.T) string {
	t.Helper()

	hostId, err := f.storage.RegisterHost(restapi.Host{
		State:        restapi.HostActive,
		Name:         "test",
		Address:      "10.0.0.1",
		Username:     "tasknet",
		Password:     "hunter2",
		ChannelSlots: 4,
		Gpus: []restapi.Gpu{
			{Index: 0, Name: "Test", Vram: 8 * 1024 * 1024 * 1024},
		},
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	return hostId
}

func (f *fixture) registerBareHost(t *testing.T) string {
	t.Helper()

	hostId, err := f.storage.RegisterHost(restapi.Host{
		State:        restapi.HostActive,
		Name:         "bare",
		Address:      "10.0.0.2",
		Username:     "tasknet",
		Password:     "hunter2",
		ChannelSlots: 4,
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	return hostId
}

func waitForState(t *testing.T, db storage.Storage, jobId string, state string) restapi.Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := db.GetJobById(jobId)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		if job.State == state {
			return job
		}

		time.Sleep(10 * time.Millisecond)
	}

	job, _ := db.GetJobById(jobId)
	t.Errorf("job %s never reached state %s, stuck in %s", jobId, state, job.State)
	t.FailNow()
	return restapi.Job{}
}

func waitForCondition(t *testing.T, label string, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("%s never happened", label)
	t.FailNow()
}

func TestRunsAssignedJob(t *testing.T) {
	f := newFixture(t, &fakeChannel{
		result: remote.ExecuteResult{ExitCode: 0, Output: "hello"},
	})

	hostId := f.registerHost(t)
	jobId := f.assignJob(t, hostId)

	jobs := task.NewTaskManager(context.Background())
	err := f.executor.update(jobs)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	job := waitForState(t, f.storage, jobId, restapi.JobCompleted)

	jobs.Cancel()
	err = jobs.Wait()
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if job.ExitStatus != restapi.ExitStatusSuccess || job.Output != "hello" {
		t.Errorf("expected a successful job with output, received %+v", job)
	}

	// The finished job returned its GPU claim
	config, err := f.storage.GetHostById(hostId)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	host, err := f.registry.GetHost(config)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if len(host.Occupancy()) != 0 {
		t.Errorf("expected idle GPUs, received occupancy %v", host.Occupancy())
	}
}

func TestFailedCommand(t *testing.T) {
	f := newFixture(t, &fakeChannel{
		result: remote.ExecuteResult{ExitCode: 3, Output: "boom"},
		err:    fmt.Errorf("exited with status 3"),
	})

	hostId := f.registerHost(t)
	jobId := f.assignJob(t, hostId)

	jobs := task.NewTaskManager(context.Background())
	if err := f.executor.update(jobs); err != nil {
		t.Log(err)
		t.FailNow()
	}
	job := waitForState(t, f.storage, jobId, restapi.JobFailed)

	jobs.Cancel()
	if err := jobs.Wait(); err != nil {
		t.Log(err)
		t.FailNow()
	}

	if job.ExitStatus != restapi.ExitStatusFailure || job.ExitCode != 3 {
		t.Errorf("expected a failed job with exit code 3, received %+v", job)
	}
}

func TestChannelInitFailure(t *testing.T) {
	f := newFixture(t, &fakeChannel{})

	hostId := f.registerHost(t)
	jobId := f.assignJob(t, hostId)

	f.executor.open = func(ctx context.Context, host *remote.Host) (channel, error) {
		return nil, fmt.Errorf("connection refused")
	}

	jobs := task.NewTaskManager(context.Background())
	if err := f.executor.update(jobs); err != nil {
		t.Log(err)
		t.FailNow()
	}
	job := waitForState(t, f.storage, jobId, restapi.JobFailed)

	jobs.Cancel()
	if err := jobs.Wait(); err != nil {
		t.Log(err)
		t.FailNow()
	}

	if job.ExitCode != restapi.ExitCodeUnknown {
		t.Errorf("expected an unknown exit code, received %d", job.ExitCode)
	}
}

func TestChannelReusedAcrossJobs(t *testing.T) {
	f := newFixture(t, &fakeChannel{
		result: remote.ExecuteResult{ExitCode: 0},
	})

	hostId := f.registerHost(t)
	first := f.assignJob(t, hostId)
	second := f.assignJob(t, hostId)

	jobs := task.NewTaskManager(context.Background())
	if err := f.executor.update(jobs); err != nil {
		t.Log(err)
		t.FailNow()
	}
	waitForState(t, f.storage, first, restapi.JobCompleted)
	waitForState(t, f.storage, second, restapi.JobCompleted)

	jobs.Cancel()
	if err := jobs.Wait(); err != nil {
		t.Log(err)
		t.FailNow()
	}

	if f.opened.Load() != 1 {
		t.Errorf("expected both jobs to share one channel, opened %d", f.opened.Load())
	}
}

func TestProbesHostWithoutGpus(t *testing.T) {
	probed := []restapi.Gpu{
		{Index: 0, Name: "Test", Vram: 8 * 1024 * 1024 * 1024},
		{Index: 1, Name: "Test", Vram: 8 * 1024 * 1024 * 1024},
	}
	output, err := json.Marshal(probed)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	f := newFixture(t, &fakeChannel{
		result: remote.ExecuteResult{ExitCode: 0, Output: string(output)},
	})

	hostId := f.registerBareHost(t)

	jobs := task.NewTaskManager(context.Background())
	if err := f.executor.update(jobs); err != nil {
		t.Log(err)
		t.FailNow()
	}
	waitForCondition(t, "gpu probe recorded the inventory", func() bool {
		config, err := f.storage.GetHostById(hostId)
		return err == nil && len(config.Gpus) > 0
	})

	jobs.Cancel()
	if err := jobs.Wait(); err != nil {
		t.Log(err)
		t.FailNow()
	}

	config, err := f.storage.GetHostById(hostId)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if len(config.Gpus) != 2 {
		t.Errorf("expected the probed inventory to be recorded, received %+v", config.Gpus)
	}

	// The host is schedulable once the inventory is known
	iterator, err := f.storage.GetAvailableHostsMatching(16*1024*1024*1024, nil, nil)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if !iterator.Next() {
		t.Error("expected the probed host to be available for its full vram")
	}
}

func TestProbeMarksUnreachableHost(t *testing.T) {
	f := newFixture(t, &fakeChannel{})

	hostId := f.registerBareHost(t)

	f.executor.open = func(ctx context.Context, host *remote.Host) (channel, error) {
		return nil, fmt.Errorf("connection refused")
	}

	jobs := task.NewTaskManager(context.Background())
	if err := f.executor.update(jobs); err != nil {
		t.Log(err)
		t.FailNow()
	}
	waitForCondition(t, "gpu probe marked the host unreachable", func() bool {
		config, err := f.storage.GetHostById(hostId)
		return err == nil && config.State == restapi.HostUnreachable
	})

	jobs.Cancel()
	if err := jobs.Wait(); err != nil {
		t.Log(err)
		t.FailNow()
	}

	config, err := f.storage.GetHostById(hostId)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if config.State != restapi.HostUnreachable {
		t.Errorf("expected an unreachable host, received state %s", config.State)
	}
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan string, 1)
	f := newFixture(t, &fakeChannel{
		started: started,
		block:   true,
	})

	hostId := f.registerHost(t)
	jobId := f.assignJob(t, hostId)

	jobs := task.NewTaskManager(context.Background())
	if err := f.executor.update(jobs); err != nil {
		t.Log(err)
		t.FailNow()
	}

	<-started

	if err := f.storage.CancelJob(jobId); err != nil {
		t.Log(err)
		t.FailNow()
	}

	// The next pass notices the cancel request and interrupts the job
	if err := f.executor.update(jobs); err != nil {
		t.Log(err)
		t.FailNow()
	}

	job := waitForState(t, f.storage, jobId, restapi.JobCanceled)

	jobs.Cancel()
	if err := jobs.Wait(); err != nil {
		t.Log(err)
		t.FailNow()
	}
	if job.ExitStatus != restapi.ExitStatusCanceled {
		t.Errorf("expected a canceled exit status, received %s", job.ExitStatus)
	}
}
