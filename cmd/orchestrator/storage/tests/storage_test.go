/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package tests

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage/gorm"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage/memdb"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

func openMemdb(t *testing.T) storage.Storage {
	db, err := memdb.OpenStorage(context.Background())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	return db
}

func openSqlite(t *testing.T) storage.Storage {
	if os.Getenv("TASKNET_TEST_GORM") == "" {
		t.Skip("set TASKNET_TEST_GORM to run GORM storage tests")
	}

	db, err := gorm.OpenStorage(context.Background(), "sqlite", filepath.Join(t.TempDir(), "tasknet.db"))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	return db
}

func runDrivers(t *testing.T, run func(t *testing.T, db storage.Storage)) {
	t.Run("memdb", func(t *testing.T) {
		db := openMemdb(t)
		defer db.Close()
		run(t, db)
	})

	t.Run("sqlite", func(t *testing.T) {
		db := openSqlite(t)
		defer db.Close()
		run(t, db)
	})
}

func defaultHost(gpuVram uint64) restapi.Host {
	return restapi.Host{
		State:        restapi.HostActive,
		Name:         "Test",
		Address:      "127.0.0.1",
		Port:         22,
		Username:     "tasknet",
		Password:     "hunter2",
		ChannelSlots: 4,
		Gpus: []restapi.Gpu{
			{
				Index:    0,
				Name:     "Test",
				VendorId: 0x0001,
				DeviceId: 0x0002,
				Vram:     gpuVram,
			},
		},
		Labels: map[string]string{
			"Key1": "Value1",
			"Key2": "Value2",
		},
		Taints: map[string]string{},
	}
}

func defaultJobRequirements(gpuVram uint64) restapi.JobRequirements {
	return restapi.JobRequirements{
		Gpus: []restapi.GpuRequirements{
			{
				VramRequired: gpuVram,
			},
		},
		MatchLabels: map[string]string{},
		Tolerates:   map[string]string{},
	}
}

func defaultSubmitJob(gpuVram uint64) restapi.SubmitJob {
	return restapi.SubmitJob{
		Command:      []string{"nvidia-smi"},
		Requirements: defaultJobRequirements(gpuVram),
	}
}

func compare[T any](t *testing.T, check T, against T, err error) {
	t.Helper()

	if err != nil {
		t.Error(err)
	}

	if !reflect.DeepEqual(check, against) {
		var checkStr, againstStr string

		bytes, err := json.Marshal(check)
		if err == nil {
			checkStr = string(bytes)
		} else {
			checkStr = err.Error()
		}

		bytes, err = json.Marshal(against)
		if err == nil {
			againstStr = string(bytes)
		} else {
			againstStr = err.Error()
		}

		t.Errorf("objects do not match\ncheck:\n%s\n====\nagainst:\n%s", checkStr, againstStr)
	}
}

func checkHost(t *testing.T, db storage.Storage, check restapi.Host) {
	t.Helper()
	against, err := db.GetHostById(check.Id)
	compare(t, check, against, err)
}

func checkJob(t *testing.T, db storage.Storage, check restapi.Job) {
	t.Helper()
	against, err := db.GetJobById(check.Id)
	compare(t, check, against, err)
}

func checkQueuedJob(t *testing.T, db storage.Storage, check storage.QueuedJob) {
	t.Helper()
	against, err := db.GetQueuedJobById(check.Id)
	compare(t, check, against, err)
}

func registerHost(t *testing.T, db storage.Storage, host restapi.Host) restapi.Host {
	id, err := db.RegisterHost(host)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	host.Id = id
	checkHost(t, db, host)

	return host
}

func submitJob(t *testing.T, db storage.Storage, job restapi.SubmitJob) string {
	jobId, err := db.SubmitJob(job)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	return jobId
}

func TestHosts(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		host := registerHost(t, db, defaultHost(24*1024*1024*1024))

		host.State = restapi.HostDisabled
		err := db.SetHostState(host.Id, restapi.HostDisabled)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		checkHost(t, db, host)

		err = db.RemoveHost(host.Id)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		_, err = db.GetHostById(host.Id)
		if !storage.IsNotFound(err) {
			t.Errorf("expected storage.ErrNotFound, instead received %v", err)
		}
	})
}

func TestUpdatingHostGpus(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		vram := uint64(8 * 1024 * 1024 * 1024)

		bare := defaultHost(0)
		bare.Gpus = nil
		host := registerHost(t, db, bare)

		host.Gpus = []restapi.Gpu{
			{Index: 0, Name: "Test", Vram: vram},
			{Index: 1, Name: "Test", Vram: vram},
		}

		err := db.UpdateHostGpus(host.Id, host.Gpus)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		checkHost(t, db, host)

		// The new inventory counts as available vram
		iterator, err := db.GetAvailableHostsMatching(2*vram, host.Labels, nil)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if !iterator.Next() {
			t.Error("expected the host to be available for its full vram")
		}

		err = db.UpdateHostGpus("00000000-0000-0000-0000-000000000000", host.Gpus)
		if !storage.IsNotFound(err) {
			t.Errorf("expected storage.ErrNotFound, instead received %v", err)
		}
	})
}

func TestJobs(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		submit := defaultSubmitJob(4 * 1024 * 1024 * 1024)
		id := submitJob(t, db, submit)

		checkQueuedJob(t, db, storage.QueuedJob{
			Id:           id,
			Requirements: submit.Requirements,
		})

		checkJob(t, db, restapi.Job{
			Id:         id,
			State:      restapi.JobQueued,
			Command:    submit.Command,
			ExitStatus: restapi.ExitStatusUnknown,
		})
	})
}

func TestAssigningJobs(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		vram := uint64(24 * 1024 * 1024 * 1024)
		host := registerHost(t, db, defaultHost(vram))

		submit := defaultSubmitJob(4 * 1024 * 1024 * 1024)
		jobId := submitJob(t, db, submit)

		selectedGpus := []restapi.JobGpu{
			{
				Index:        host.Gpus[0].Index,
				VramRequired: submit.Requirements.Gpus[0].VramRequired,
			},
		}

		err := db.AssignJob(jobId, host.Id, selectedGpus)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		job := restapi.Job{
			Id:         jobId,
			State:      restapi.JobAssigned,
			HostId:     host.Id,
			Command:    submit.Command,
			Gpus:       selectedGpus,
			ExitStatus: restapi.ExitStatusUnknown,
		}
		checkJob(t, db, job)

		// The assignment claims VRAM on the host
		iterator, err := db.GetAvailableHostsMatching(vram, nil, nil)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if iterator.Next() {
			t.Error("expected no host with the full VRAM available")
		}

		job.State = restapi.JobRunning
		err = db.UpdateJob(restapi.JobUpdate{
			Id:    jobId,
			State: restapi.JobRunning,
		})
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		checkJob(t, db, job)

		job.State = restapi.JobCompleted
		job.ExitStatus = restapi.ExitStatusSuccess
		job.Output = "done"
		err = db.UpdateJob(restapi.JobUpdate{
			Id:         jobId,
			State:      restapi.JobCompleted,
			ExitStatus: restapi.ExitStatusSuccess,
			Output:     "done",
		})
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		checkJob(t, db, job)

		// A terminal job returns its VRAM claim
		iterator, err = db.GetAvailableHostsMatching(vram, nil, nil)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if !iterator.Next() {
			t.Error("expected the host to have its full VRAM available again")
		}
	})
}

func TestCancelingJobs(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		submit := defaultSubmitJob(4 * 1024 * 1024 * 1024)

		// A queued job cancels immediately
		queuedId := submitJob(t, db, submit)
		err := db.CancelJob(queuedId)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		job, err := db.GetJobById(queuedId)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if job.State != restapi.JobCanceled || job.ExitStatus != restapi.ExitStatusCanceled {
			t.Errorf("expected a canceled job, received state %s, exit status %s", job.State, job.ExitStatus)
		}

		// An assigned job transitions through canceling
		host := registerHost(t, db, defaultHost(24*1024*1024*1024))
		assignedId := submitJob(t, db, submit)

		err = db.AssignJob(assignedId, host.Id, []restapi.JobGpu{{Index: 0}})
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		err = db.CancelJob(assignedId)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		job, err = db.GetJobById(assignedId)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if job.State != restapi.JobCanceling {
			t.Errorf("expected a canceling job, received state %s", job.State)
		}
	})
}

func TestMatchingHosts(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		host := defaultHost(24 * 1024 * 1024 * 1024)
		host.Taints = map[string]string{"gpu": "preview"}
		host = registerHost(t, db, host)

		// Labels must be a subset of the host labels
		iterator, err := db.GetAvailableHostsMatching(0, map[string]string{"Key1": "Value1"}, map[string]string{"gpu": "preview"})
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if !iterator.Next() {
			t.Error("expected a matching host")
		}

		iterator, err = db.GetAvailableHostsMatching(0, map[string]string{"Key1": "Other"}, map[string]string{"gpu": "preview"})
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if iterator.Next() {
			t.Error("expected no host for mismatched labels")
		}

		// Taints must be tolerated
		iterator, err = db.GetAvailableHostsMatching(0, nil, nil)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if iterator.Next() {
			t.Error("expected no host for untolerated taints")
		}

		// A disabled host is never offered
		err = db.SetHostState(host.Id, restapi.HostDisabled)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		iterator, err = db.GetAvailableHostsMatching(0, nil, map[string]string{"gpu": "preview"})
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if iterator.Next() {
			t.Error("expected no disabled host")
		}
	})
}

func TestGetQueuedJobsIterator(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		jobIds := map[string]restapi.JobRequirements{}
		for i := 0; i < 4; i++ {
			submit := defaultSubmitJob(4 * 1024 * 1024 * 1024)
			jobIds[submitJob(t, db, submit)] = submit.Requirements
		}

		iterator, err := db.GetQueuedJobsIterator()
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		for iterator.Next() {
			against := iterator.Value()
			check, present := jobIds[against.Id]
			if !present {
				t.Error("unexpected job found")
			} else {
				compare(t, check, against.Requirements, nil)
				delete(jobIds, against.Id)
			}
		}

		if len(jobIds) != 0 {
			t.Error("jobs not queued")
		}
	})
}

func TestGetActiveJobsForHost(t *testing.T) {
	runDrivers(t, func(t *testing.T, db storage.Storage) {
		host := registerHost(t, db, defaultHost(24*1024*1024*1024))

		submit := defaultSubmitJob(4 * 1024 * 1024 * 1024)
		first := submitJob(t, db, submit)
		second := submitJob(t, db, submit)

		for _, id := range []string{first, second} {
			err := db.AssignJob(id, host.Id, []restapi.JobGpu{{Index: 0}})
			if err != nil {
				t.Log(err)
				t.FailNow()
			}
		}

		jobs, err := db.GetActiveJobsForHost(host.Id)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if len(jobs) != 2 {
			t.Errorf("expected 2 active jobs, received %d", len(jobs))
		}

		err = db.UpdateJob(restapi.JobUpdate{
			Id:         first,
			State:      restapi.JobCompleted,
			ExitStatus: restapi.ExitStatusSuccess,
		})
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		jobs, err = db.GetActiveJobsForHost(host.Id)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if len(jobs) != 1 || jobs[0].Id != second {
			t.Errorf("expected only the second job to remain active, received %v", jobs)
		}
	})
}
