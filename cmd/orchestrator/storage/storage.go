/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package storage

import (
	"errors"

	"github.com/tasknet-io/tasknet/pkg/restapi"
)

var ErrNotFound = errors.New("object not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// QueuedJob is the slice of a job the scheduler needs to place it.
type QueuedJob struct {
	Id           string
	Requirements restapi.JobRequirements
}

type AggregatedData struct {
	Hosts         int
	HostsByState  map[string]int
	Jobs          int
	JobsByState   map[string]int
	Gpus          int
	GpusByGpuName map[string]int
	Vram          uint64
	VramByGpuName map[string]uint64
	VramAvailable uint64
	VramQueued    uint64
}

type Iterator[T any] interface {
	Next() bool
	Value() T
}

type DefaultIterator[T any] struct {
	index   int
	objects []T
}

func NewDefaultIterator[T any](objects []T) *DefaultIterator[T] {
	return &DefaultIterator[T]{
		index:   -1,
		objects: objects,
	}
}

func (iterator *DefaultIterator[T]) Next() bool {
	index := iterator.index + 1
	if index >= len(iterator.objects) {
		return false
	}

	iterator.index = index
	return true
}

func (iterator *DefaultIterator[T]) Value() T {
	return iterator.objects[iterator.index]
}

type Storage interface {
	Close() error

	AggregateData() (AggregatedData, error)

	RegisterHost(host restapi.Host) (string, error)
	GetHostById(id string) (restapi.Host, error)
	GetHosts() (Iterator[restapi.Host], error)
	GetAvailableHostsMatching(vramAvailableAtLeast uint64, matchLabels map[string]string, tolerates map[string]string) (Iterator[restapi.Host], error)
	SetHostState(id string, state string) error
	UpdateHostGpus(id string, gpus []restapi.Gpu) error
	RemoveHost(id string) error

	SubmitJob(job restapi.SubmitJob) (string, error)
	AssignJob(jobId string, hostId string, gpus []restapi.JobGpu) error
	UpdateJob(update restapi.JobUpdate) error
	CancelJob(jobId string) error
	GetJobById(id string) (restapi.Job, error)
	GetQueuedJobById(id string) (QueuedJob, error) // For Testing

	GetQueuedJobsIterator() (Iterator[QueuedJob], error)
	GetAssignedJobsIterator() (Iterator[restapi.Job], error)
	GetActiveJobsForHost(hostId string) ([]restapi.Job, error)
}

func TotalVram(gpus []restapi.Gpu) uint64 {
	var vram uint64
	for _, gpu := range gpus {
		vram += gpu.Vram
	}

	return vram
}

func TotalVramRequired(requirements restapi.JobRequirements) uint64 {
	var vramRequired uint64
	for _, gpu := range requirements.Gpus {
		vramRequired += gpu.VramRequired
	}

	return vramRequired
}

// IsSubset reports whether every key/value pair in required is present in
// available. An empty required set matches anything.
func IsSubset(available map[string]string, required map[string]string) bool {
	for key, value := range required {
		if available[key] != value {
			return false
		}
	}

	return true
}
