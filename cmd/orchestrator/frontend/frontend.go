/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package frontend

import (
	"flag"
	"os"
	"time"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/server"
	"github.com/tasknet-io/tasknet/pkg/task"
)

var (
	overrideHostname = flag.String("override-hostname", "", "")
)

type Frontend struct {
	startTime time.Time

	hostname string

	storage storage.Storage
}

func NewFrontend(server *server.Server, storage storage.Storage) (*Frontend, error) {
	hostname := *overrideHostname
	if hostname == "" {
		hostname_, err := os.Hostname()
		if err != nil {
			return nil, err
		}

		hostname = hostname_
	}

	frontend := &Frontend{
		startTime: time.Now(),
		hostname:  hostname,
		storage:   storage,
	}

	frontend.initializeEndpoints(server)

	return frontend, nil
}

func (frontend *Frontend) Run(group task.Group) error {
	return nil
}

func (frontend *Frontend) registerHost(host restapi.Host) (string, error) {
	host.State = restapi.HostActive
	return frontend.storage.RegisterHost(host)
}

func (frontend *Frontend) getHosts() ([]restapi.Host, error) {
	iterator, err := frontend.storage.GetHosts()
	if err != nil {
		return nil, err
	}

	hosts := make([]restapi.Host, 0)
	for iterator.Next() {
		hosts = append(hosts, iterator.Value())
	}

	return hosts, nil
}

func (frontend *Frontend) getHostById(id string) (restapi.Host, error) {
	return frontend.storage.GetHostById(id)
}

func (frontend *Frontend) setHostState(id string, state string) error {
	return frontend.storage.SetHostState(id, state)
}

func (frontend *Frontend) updateHostGpus(id string, gpus []restapi.Gpu) error {
	return frontend.storage.UpdateHostGpus(id, gpus)
}

func (frontend *Frontend) removeHost(id string) error {
	return frontend.storage.RemoveHost(id)
}

func (frontend *Frontend) submitJob(submit restapi.SubmitJob) (string, error) {
	return frontend.storage.SubmitJob(submit)
}

func (frontend *Frontend) getJobById(id string) (restapi.Job, error) {
	return frontend.storage.GetJobById(id)
}

func (frontend *Frontend) cancelJob(id string) error {
	return frontend.storage.CancelJob(id)
}
