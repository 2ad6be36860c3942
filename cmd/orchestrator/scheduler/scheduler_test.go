/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package scheduler

import (
	"context"
	"testing"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/registry"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage/memdb"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

func newScheduler(t *testing.T) (*Scheduler, storage.Storage) {
	db, err := memdb.OpenStorage(context.Background())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	return NewScheduler(db, registry.NewRegistry(db)), db
}

func testHost(gpus int, policy restapi.GpuPolicy) restapi.Host {
	host := restapi.Host{
		State:        restapi.HostActive,
		Name:         "test",
		Address:      "10.0.0.1",
		Username:     "tasknet",
		Password:     "hunter2",
		ChannelSlots: 4,
		Policy:       policy,
		Labels:       map[string]string{"zone": "lab"},
		Taints:       map[string]string{},
	}

	for index := 0; index < gpus; index++ {
		host.Gpus = append(host.Gpus, restapi.Gpu{
			Index: index,
			Name:  "Test",
			Vram:  8 * 1024 * 1024 * 1024,
		})
	}

	return host
}

func testSubmit(vram uint64) restapi.SubmitJob {
	return restapi.SubmitJob{
		Command: []string{"nvidia-smi"},
		Requirements: restapi.JobRequirements{
			Gpus: []restapi.GpuRequirements{{VramRequired: vram}},
		},
	}
}

func TestPlacesQueuedJob(t *testing.T) {
	scheduler, db := newScheduler(t)

	hostId, err := db.RegisterHost(testHost(2, restapi.GpuPolicy{}))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	jobId, err := db.SubmitJob(testSubmit(1024))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	err = scheduler.update(context.Background())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	job, err := db.GetJobById(jobId)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if job.State != restapi.JobAssigned || job.HostId != hostId {
		t.Errorf("expected the job assigned to %s, received state %s on host %q", hostId, job.State, job.HostId)
	}

	if len(job.Gpus) != 1 {
		t.Errorf("expected one selected GPU, received %v", job.Gpus)
	}
}

func TestLeavesUnplaceableJobQueued(t *testing.T) {
	scheduler, db := newScheduler(t)

	_, err := db.RegisterHost(testHost(1, restapi.GpuPolicy{}))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	jobId, err := db.SubmitJob(testSubmit(64 * 1024 * 1024 * 1024))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	err = scheduler.update(context.Background())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	job, err := db.GetJobById(jobId)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if job.State != restapi.JobQueued {
		t.Errorf("expected the job to stay queued, received state %s", job.State)
	}
}

func TestCancelsInvalidJob(t *testing.T) {
	scheduler, db := newScheduler(t)

	jobId, err := db.SubmitJob(restapi.SubmitJob{
		Command:      []string{"true"},
		Requirements: restapi.JobRequirements{},
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	// A bad submission cancels the job without failing the pass
	if err := scheduler.update(context.Background()); err != nil {
		t.Log(err)
		t.FailNow()
	}

	job, err := db.GetJobById(jobId)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if job.State != restapi.JobCanceled {
		t.Errorf("expected the job canceled, received state %s", job.State)
	}
}

func TestHonorsHostPolicyAcrossPasses(t *testing.T) {
	scheduler, db := newScheduler(t)

	_, err := db.RegisterHost(testHost(1, restapi.GpuPolicy{OnlyIdle: true}))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	first, err := db.SubmitJob(testSubmit(1024))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	second, err := db.SubmitJob(testSubmit(1024))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	err = scheduler.update(context.Background())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	firstJob, err := db.GetJobById(first)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	secondJob, err := db.GetJobById(second)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	// The single GPU allows one job, the other waits
	assigned, queued := 0, 0
	for _, job := range []restapi.Job{firstJob, secondJob} {
		switch job.State {
		case restapi.JobAssigned:
			assigned++
		case restapi.JobQueued:
			queued++
		}
	}

	if assigned != 1 || queued != 1 {
		t.Errorf("expected one assigned and one queued job, received %s and %s", firstJob.State, secondJob.State)
	}
}
