/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package remote

import (
	"testing"

	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

func validConfig() restapi.Host {
	return restapi.Host{
		Name:     "test",
		Address:  "10.0.0.1",
		Username: "tasknet",
		Password: "hunter2",
		Gpus: []restapi.Gpu{
			{Index: 0, Vram: 8 * 1024 * 1024 * 1024},
			{Index: 1, Vram: 8 * 1024 * 1024 * 1024},
		},
	}
}

func TestNewHostDefaults(t *testing.T) {
	host, err := NewHost(validConfig())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if host.Port != DefaultPort {
		t.Errorf("expected default port %d, received %d", DefaultPort, host.Port)
	}

	if host.ChannelSlots != DefaultChannelSlots {
		t.Errorf("expected default channel slots %d, received %d", DefaultChannelSlots, host.ChannelSlots)
	}
}

func TestNewHostValidation(t *testing.T) {
	breakConfig := map[string]func(config *restapi.Host){
		"no address":     func(config *restapi.Host) { config.Address = "" },
		"no username":    func(config *restapi.Host) { config.Username = "" },
		"no credentials": func(config *restapi.Host) { config.Password = "" },
	}

	for name, mutate := range breakConfig {
		t.Run(name, func(t *testing.T) {
			config := validConfig()
			mutate(&config)

			_, err := NewHost(config)
			if !errors.Is(err, ErrInvalidHost) {
				t.Errorf("expected ErrInvalidHost, received %v", err)
			}
		})
	}
}

func TestRestoreHostOccupancy(t *testing.T) {
	vram := uint64(8 * 1024 * 1024 * 1024)
	claims := []restapi.JobGpu{
		{Index: 1, VramRequired: vram},
		{Index: 1},
		{Index: 1},
	}

	host, err := RestoreHost(validConfig(), claims)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	occupancy := host.Occupancy()
	if occupancy[1] != 3 {
		t.Errorf("occupancy does not round-trip, received %v", occupancy)
	}

	// The restored claims hold their VRAM, only GPU 0 has any left
	selected, err := host.ReserveGpus([]restapi.GpuRequirements{{VramRequired: vram}})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if selected.GetGpus()[0].Index != 0 {
		t.Errorf("expected GPU 0, received %v", selected.GetGpus())
	}

	_, err = RestoreHost(validConfig(), []restapi.JobGpu{{Index: 9}})
	if !errors.Is(err, ErrInvalidHost) {
		t.Errorf("expected ErrInvalidHost for unknown GPU index, received %v", err)
	}
}

func TestReserveReleaseGpus(t *testing.T) {
	host, err := NewHost(validConfig())
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	selected, err := host.ReserveGpus([]restapi.GpuRequirements{{}, {}})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if len(host.Occupancy()) != 2 {
		t.Error("expected both GPUs occupied")
	}

	host.ReleaseGpus(selected)

	if len(host.Occupancy()) != 0 {
		t.Error("expected all GPUs idle after release")
	}
}
