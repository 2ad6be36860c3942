/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */

// Package registry caches live host descriptors, one per registered
// host, so the scheduler and the executor share GPU occupancy state.
package registry

import (
	"sync"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/pkg/remote"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

type Registry struct {
	storage storage.Storage

	mutex sync.Mutex
	hosts map[string]*remote.Host
}

func NewRegistry(storage storage.Storage) *Registry {
	return &Registry{
		storage: storage,
		hosts:   map[string]*remote.Host{},
	}
}

// GetHost returns the live descriptor for a registered host, building it
// on first sight. A host that already carries active jobs, e.g. after the
// orchestrator restarted on a persistent registry, comes back with its
// GPU occupancy restored from those jobs.
func (registry *Registry) GetHost(config restapi.Host) (*remote.Host, error) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if host, present := registry.hosts[config.Id]; present {
		return host, nil
	}

	jobs, err := registry.storage.GetActiveJobsForHost(config.Id)
	if err != nil {
		return nil, err
	}

	var host *remote.Host
	if len(jobs) > 0 {
		var claims []restapi.JobGpu
		for _, job := range jobs {
			claims = append(claims, job.Gpus...)
		}

		host, err = remote.RestoreHost(config, claims)
	} else {
		host, err = remote.NewHost(config)
	}

	if err != nil {
		return nil, err
	}

	registry.hosts[config.Id] = host
	return host, nil
}

// Forget drops the cached descriptor, e.g. when a host is removed.
func (registry *Registry) Forget(hostId string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	delete(registry.hosts, hostId)
}
