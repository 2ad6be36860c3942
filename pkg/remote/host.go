/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package remote

import (
	"sync"

	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/gpu"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

const (
	DefaultPort         = 22
	DefaultChannelSlots = 4
)

var ErrInvalidHost = errors.New("remote: invalid host configuration")

// Host pairs the connection parameters for one remote machine with its GPU
// occupancy bookkeeping. Connection parameters never change after
// construction; occupancy is mutated by the scheduling layer through
// ReserveGpus/SelectGpus and handed back through ReleaseGpus.
type Host struct {
	restapi.Host

	mutex sync.Mutex
	gpus  gpu.GpuSet
}

// NewHost builds a Host from raw registration config, with every GPU idle.
func NewHost(config restapi.Host) (*Host, error) {
	err := validateHost(&config)
	if err != nil {
		return nil, err
	}

	return &Host{
		Host: config,
		gpus: gpu.NewGpuSet(config.Gpus),
	}, nil
}

// RestoreHost rebuilds a Host whose GPUs already carry the claims of
// previously placed jobs, e.g. when reloading registry state after a
// restart.
func RestoreHost(config restapi.Host, claims []restapi.JobGpu) (*Host, error) {
	err := validateHost(&config)
	if err != nil {
		return nil, err
	}

	gpus, err := gpu.RestoreGpuSet(config.Gpus, claims)
	if err != nil {
		return nil, ErrInvalidHost.Wrap(err)
	}

	return &Host{
		Host: config,
		gpus: gpus,
	}, nil
}

func validateHost(config *restapi.Host) error {
	if config.Address == "" {
		return ErrInvalidHost.Wrapf("host %s has no address", config.Name)
	}

	if config.Username == "" {
		return ErrInvalidHost.Wrapf("host %s has no username", config.Name)
	}

	if config.Password == "" && config.KeyFile == "" {
		return ErrInvalidHost.Wrapf("host %s has no password or key file", config.Name)
	}

	if config.Port <= 0 {
		config.Port = DefaultPort
	}

	if config.ChannelSlots <= 0 {
		config.ChannelSlots = DefaultChannelSlots
	}

	return nil
}

// ReserveGpus selects one GPU per requirement under the host policy,
// committing the selection to the host occupancy.
func (host *Host) ReserveGpus(requirements []restapi.GpuRequirements) (gpu.SelectedGpuSet, error) {
	host.mutex.Lock()
	defer host.mutex.Unlock()

	return host.gpus.Find(requirements, host.Policy)
}

// SelectGpus re-commits a previously recorded per-job GPU assignment.
func (host *Host) SelectGpus(chosen []restapi.JobGpu) (gpu.SelectedGpuSet, error) {
	host.mutex.Lock()
	defer host.mutex.Unlock()

	return host.gpus.Select(chosen)
}

// ReleaseJobGpus returns the occupancy held by a finished job, identified
// by its recorded GPU assignment.
func (host *Host) ReleaseJobGpus(chosen []restapi.JobGpu) {
	host.mutex.Lock()
	defer host.mutex.Unlock()

	host.gpus.ReleaseSelection(chosen)
}

func (host *Host) ReleaseGpus(selected gpu.SelectedGpuSet) {
	host.mutex.Lock()
	defer host.mutex.Unlock()

	selected.Release()
}

func (host *Host) Occupancy() map[int]int {
	host.mutex.Lock()
	defer host.mutex.Unlock()

	return host.gpus.Occupancy()
}
