/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package memdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/utilities"
)

type Host struct {
	restapi.Host

	JobIds        []string
	VramAvailable uint64

	LastUpdated int64
}

type Job struct {
	restapi.Job

	Requirements restapi.JobRequirements
	VramRequired uint64

	LastUpdated int64
}

type storageDriver struct {
	ctx context.Context
	db  *memdb.MemDB
}

func OpenStorage(ctx context.Context) (storage.Storage, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"hosts": {
				Name: "hosts",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UUIDFieldIndex{Field: "Id"},
					},
					"state": {
						Name:    "state",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "State"},
					},
					"last_updated": {
						Name:    "last_updated",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "LastUpdated"},
					},
				},
			},
			"jobs": {
				Name: "jobs",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UUIDFieldIndex{Field: "Id"},
					},
					"state": {
						Name:    "state",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "State"},
					},
					"host": {
						Name:         "host",
						Unique:       false,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "HostId"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}

	return &storageDriver{
		ctx: ctx,
		db:  db,
	}, nil
}

func (driver *storageDriver) Close() error {
	return nil
}

func (driver *storageDriver) AggregateData() (storage.AggregatedData, error) {
	data := storage.AggregatedData{
		HostsByState:  map[string]int{},
		JobsByState:   map[string]int{},
		GpusByGpuName: map[string]int{},
		VramByGpuName: map[string]uint64{},
	}

	txn := driver.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get("hosts", "id")
	if err != nil {
		return storage.AggregatedData{}, err
	}

	for obj := iterator.Next(); obj != nil; obj = iterator.Next() {
		host := utilities.Require[Host](obj)

		data.Hosts++
		data.HostsByState[host.State]++
		data.VramAvailable += host.VramAvailable

		for _, gpu := range host.Gpus {
			data.Gpus++
			data.GpusByGpuName[gpu.Name]++
			data.Vram += gpu.Vram
			data.VramByGpuName[gpu.Name] += gpu.Vram
		}
	}

	iterator, err = txn.Get("jobs", "id")
	if err != nil {
		return storage.AggregatedData{}, err
	}

	for obj := iterator.Next(); obj != nil; obj = iterator.Next() {
		job := utilities.Require[Job](obj)

		data.Jobs++
		data.JobsByState[job.State]++

		if job.State == restapi.JobQueued {
			data.VramQueued += job.VramRequired
		}
	}

	return data, nil
}

func (driver *storageDriver) RegisterHost(apiHost restapi.Host) (string, error) {
	host := Host{
		Host:          apiHost,
		VramAvailable: storage.TotalVram(apiHost.Gpus),
		LastUpdated:   time.Now().Unix(),
	}

	host.Id = uuid.NewString()
	if host.State == "" {
		host.State = restapi.HostActive
	}

	txn := driver.db.Txn(true)
	err := txn.Insert("hosts", host)
	if err != nil {
		txn.Abort()
		return "", err
	}

	txn.Commit()
	return host.Id, nil
}

func (driver *storageDriver) getHost(txn *memdb.Txn, id string) (Host, error) {
	obj, err := txn.First("hosts", "id", id)
	if err != nil {
		return Host{}, err
	}
	if obj == nil {
		return Host{}, storage.ErrNotFound
	}

	return utilities.Require[Host](obj), nil
}

func (driver *storageDriver) getJob(txn *memdb.Txn, id string) (Job, error) {
	obj, err := txn.First("jobs", "id", id)
	if err != nil {
		return Job{}, err
	}
	if obj == nil {
		return Job{}, storage.ErrNotFound
	}

	return utilities.Require[Job](obj), nil
}

func (driver *storageDriver) GetHostById(id string) (restapi.Host, error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	host, err := driver.getHost(txn, id)
	if err != nil {
		return restapi.Host{}, err
	}

	return host.Host, nil
}

func (driver *storageDriver) GetHosts() (storage.Iterator[restapi.Host], error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get("hosts", "id")
	if err != nil {
		return nil, err
	}

	var hosts []restapi.Host
	for obj := iterator.Next(); obj != nil; obj = iterator.Next() {
		hosts = append(hosts, utilities.Require[Host](obj).Host)
	}

	return storage.NewDefaultIterator(hosts), nil
}

func (driver *storageDriver) GetAvailableHostsMatching(vramAvailableAtLeast uint64, matchLabels map[string]string, tolerates map[string]string) (storage.Iterator[restapi.Host], error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get("hosts", "state", restapi.HostActive)
	if err != nil {
		return nil, err
	}

	var hosts []restapi.Host
	for obj := iterator.Next(); obj != nil; obj = iterator.Next() {
		host := utilities.Require[Host](obj)

		if host.VramAvailable >= vramAvailableAtLeast &&
			storage.IsSubset(host.Labels, matchLabels) &&
			storage.IsSubset(tolerates, host.Taints) {
			hosts = append(hosts, host.Host)
		}
	}

	return storage.NewDefaultIterator(hosts), nil
}

func (driver *storageDriver) SetHostState(id string, state string) error {
	txn := driver.db.Txn(true)

	host, err := driver.getHost(txn, id)
	if err != nil {
		txn.Abort()
		return err
	}

	host.State = state
	host.LastUpdated = time.Now().Unix()

	err = txn.Insert("hosts", host)
	if err != nil {
		txn.Abort()
		return err
	}

	txn.Commit()
	return nil
}

func (driver *storageDriver) UpdateHostGpus(id string, gpus []restapi.Gpu) error {
	txn := driver.db.Txn(true)

	host, err := driver.getHost(txn, id)
	if err != nil {
		txn.Abort()
		return err
	}

	// Keep the vram already claimed by assigned jobs claimed
	host.VramAvailable += storage.TotalVram(gpus) - storage.TotalVram(host.Gpus)
	host.Gpus = gpus
	host.LastUpdated = time.Now().Unix()

	err = txn.Insert("hosts", host)
	if err != nil {
		txn.Abort()
		return err
	}

	txn.Commit()
	return nil
}

func (driver *storageDriver) RemoveHost(id string) error {
	txn := driver.db.Txn(true)

	host, err := driver.getHost(txn, id)
	if err != nil {
		txn.Abort()
		return err
	}

	_, err = txn.DeleteAll("hosts", "id", host.Id)
	if err != nil {
		txn.Abort()
		return err
	}

	txn.Commit()
	return nil
}

func (driver *storageDriver) SubmitJob(submit restapi.SubmitJob) (string, error) {
	job := Job{
		Job: restapi.Job{
			Id:         uuid.NewString(),
			State:      restapi.JobQueued,
			Command:    submit.Command,
			Env:        submit.Env,
			Workdir:    submit.Workdir,
			ExitStatus: restapi.ExitStatusUnknown,
		},
		Requirements: submit.Requirements,
		VramRequired: storage.TotalVramRequired(submit.Requirements),
		LastUpdated:  time.Now().Unix(),
	}

	txn := driver.db.Txn(true)

	err := txn.Insert("jobs", job)
	if err != nil {
		txn.Abort()
		return "", err
	}

	txn.Commit()
	return job.Id, nil
}

func (driver *storageDriver) AssignJob(jobId string, hostId string, gpus []restapi.JobGpu) error {
	now := time.Now().Unix()

	txn := driver.db.Txn(true)

	host, err := driver.getHost(txn, hostId)
	if err != nil {
		txn.Abort()
		return err
	}

	job, err := driver.getJob(txn, jobId)
	if err != nil {
		txn.Abort()
		return err
	}

	job.HostId = hostId
	job.State = restapi.JobAssigned
	job.Gpus = gpus
	job.LastUpdated = now

	err = txn.Insert("jobs", job)
	if err != nil {
		txn.Abort()
		return err
	}

	host.JobIds = append(host.JobIds, jobId)
	host.VramAvailable -= job.VramRequired
	host.LastUpdated = now

	err = txn.Insert("hosts", host)
	if err != nil {
		txn.Abort()
		return err
	}

	txn.Commit()
	return nil
}

func (driver *storageDriver) UpdateJob(update restapi.JobUpdate) error {
	now := time.Now().Unix()

	txn := driver.db.Txn(true)

	job, err := driver.getJob(txn, update.Id)
	if err != nil {
		txn.Abort()
		return err
	}

	job.State = update.State
	if update.ExitStatus != "" {
		job.ExitStatus = update.ExitStatus
	}
	job.ExitCode = update.ExitCode
	if update.Output != "" {
		job.Output = update.Output
	}
	job.LastUpdated = now

	// A terminal job releases its claim on the host
	if job.HostId != "" && isTerminal(job.State) {
		host, err := driver.getHost(txn, job.HostId)
		if err != nil {
			txn.Abort()
			return err
		}

		for index, id := range host.JobIds {
			if id == job.Id {
				host.JobIds = append(host.JobIds[:index], host.JobIds[index+1:]...)
				host.VramAvailable += job.VramRequired
				break
			}
		}
		host.LastUpdated = now

		err = txn.Insert("hosts", host)
		if err != nil {
			txn.Abort()
			return err
		}
	}

	err = txn.Insert("jobs", job)
	if err != nil {
		txn.Abort()
		return err
	}

	txn.Commit()
	return nil
}

func (driver *storageDriver) CancelJob(jobId string) error {
	txn := driver.db.Txn(true)

	job, err := driver.getJob(txn, jobId)
	if err != nil {
		txn.Abort()
		return err
	}

	switch job.State {
	case restapi.JobQueued:
		job.State = restapi.JobCanceled
		job.ExitStatus = restapi.ExitStatusCanceled
	case restapi.JobAssigned, restapi.JobRunning:
		job.State = restapi.JobCanceling
	default:
		txn.Abort()
		return nil
	}

	job.LastUpdated = time.Now().Unix()

	err = txn.Insert("jobs", job)
	if err != nil {
		txn.Abort()
		return err
	}

	txn.Commit()
	return nil
}

func (driver *storageDriver) GetJobById(id string) (restapi.Job, error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	job, err := driver.getJob(txn, id)
	if err != nil {
		return restapi.Job{}, err
	}

	return job.Job, nil
}

func (driver *storageDriver) GetQueuedJobById(id string) (storage.QueuedJob, error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	job, err := driver.getJob(txn, id)
	if err != nil {
		return storage.QueuedJob{}, err
	}

	if job.State != restapi.JobQueued {
		return storage.QueuedJob{}, storage.ErrNotFound
	}

	return storage.QueuedJob{
		Id:           job.Id,
		Requirements: job.Requirements,
	}, nil
}

func (driver *storageDriver) GetQueuedJobsIterator() (storage.Iterator[storage.QueuedJob], error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get("jobs", "state", restapi.JobQueued)
	if err != nil {
		return nil, err
	}

	var jobs []storage.QueuedJob
	for obj := iterator.Next(); obj != nil; obj = iterator.Next() {
		job := utilities.Require[Job](obj)
		jobs = append(jobs, storage.QueuedJob{
			Id:           job.Id,
			Requirements: job.Requirements,
		})
	}

	return storage.NewDefaultIterator(jobs), nil
}

func (driver *storageDriver) GetAssignedJobsIterator() (storage.Iterator[restapi.Job], error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get("jobs", "state", restapi.JobAssigned)
	if err != nil {
		return nil, err
	}

	var jobs []restapi.Job
	for obj := iterator.Next(); obj != nil; obj = iterator.Next() {
		jobs = append(jobs, utilities.Require[Job](obj).Job)
	}

	return storage.NewDefaultIterator(jobs), nil
}

func (driver *storageDriver) GetActiveJobsForHost(hostId string) ([]restapi.Job, error) {
	txn := driver.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get("jobs", "host", hostId)
	if err != nil {
		return nil, err
	}

	var jobs []restapi.Job
	for obj := iterator.Next(); obj != nil; obj = iterator.Next() {
		job := utilities.Require[Job](obj)
		if !isTerminal(job.State) {
			jobs = append(jobs, job.Job)
		}
	}

	return jobs, nil
}

func isTerminal(state string) bool {
	switch state {
	case restapi.JobCompleted, restapi.JobFailed, restapi.JobCanceled:
		return true
	}

	return false
}
