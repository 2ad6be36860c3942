/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/pkg/server"
	"github.com/tasknet-io/tasknet/pkg/task"
)

type Frontend struct {
	sync.Mutex

	storage storage.Storage

	hosts         prometheus.Gauge
	hostsByState  *prometheus.GaugeVec
	jobs          prometheus.Gauge
	jobsByState   *prometheus.GaugeVec
	gpus          prometheus.Gauge
	gpusByGpuName *prometheus.GaugeVec
	vram          prometheus.Gauge
	vramByGpuName *prometheus.GaugeVec
	vramAvailable prometheus.Gauge
	vramQueued    prometheus.Gauge
}

func getGaugeOpts(name string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: "tasknet",
		Subsystem: "orchestrator",
		Name:      name,
	}
}

func NewFrontend(server *server.Server, storage storage.Storage) *Frontend {
	frontend := &Frontend{
		storage: storage,

		hosts:         prometheus.NewGauge(getGaugeOpts("hosts")),
		hostsByState:  prometheus.NewGaugeVec(getGaugeOpts("hostsByState"), []string{"state"}),
		jobs:          prometheus.NewGauge(getGaugeOpts("jobs")),
		jobsByState:   prometheus.NewGaugeVec(getGaugeOpts("jobsByState"), []string{"state"}),
		gpus:          prometheus.NewGauge(getGaugeOpts("gpus")),
		gpusByGpuName: prometheus.NewGaugeVec(getGaugeOpts("gpusByGpuName"), []string{"gpu"}),
		vram:          prometheus.NewGauge(getGaugeOpts("vram")),
		vramByGpuName: prometheus.NewGaugeVec(getGaugeOpts("vramByGpuName"), []string{"gpu"}),
		vramAvailable: prometheus.NewGauge(getGaugeOpts("vramAvailable")),
		vramQueued:    prometheus.NewGauge(getGaugeOpts("vramQueued")),
	}
	prometheus.MustRegister(frontend)

	server.AddEndpointHandler("GET", "/metrics", promhttp.Handler())

	return frontend
}

func (frontend *Frontend) Run(group task.Group) error {
	err := frontend.update()
	if err == nil {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for err == nil {
			select {
			case <-group.Ctx().Done():
				return err

			case <-ticker.C:
				err = frontend.update()
			}
		}
	}

	return err
}

func (frontend *Frontend) update() error {
	data, err := frontend.storage.AggregateData()
	if err != nil {
		return err
	}

	frontend.Lock()
	defer frontend.Unlock()

	frontend.hosts.Set(float64(data.Hosts))
	frontend.hostsByState.Reset()
	for key, value := range data.HostsByState {
		frontend.hostsByState.WithLabelValues(key).Set(float64(value))
	}

	frontend.jobs.Set(float64(data.Jobs))
	frontend.jobsByState.Reset()
	for key, value := range data.JobsByState {
		frontend.jobsByState.WithLabelValues(key).Set(float64(value))
	}

	frontend.gpus.Set(float64(data.Gpus))
	frontend.gpusByGpuName.Reset()
	for key, value := range data.GpusByGpuName {
		frontend.gpusByGpuName.WithLabelValues(key).Set(float64(value))
	}

	frontend.vram.Set(float64(data.Vram))
	frontend.vramByGpuName.Reset()
	for key, value := range data.VramByGpuName {
		frontend.vramByGpuName.WithLabelValues(key).Set(float64(value))
	}

	frontend.vramAvailable.Set(float64(data.VramAvailable))
	frontend.vramQueued.Set(float64(data.VramQueued))

	return err
}

func (frontend *Frontend) Describe(ch chan<- *prometheus.Desc) {
	frontend.hosts.Describe(ch)
	frontend.hostsByState.Describe(ch)
	frontend.jobs.Describe(ch)
	frontend.jobsByState.Describe(ch)
	frontend.gpus.Describe(ch)
	frontend.gpusByGpuName.Describe(ch)
	frontend.vram.Describe(ch)
	frontend.vramByGpuName.Describe(ch)
	frontend.vramAvailable.Describe(ch)
	frontend.vramQueued.Describe(ch)
}

func (frontend *Frontend) Collect(ch chan<- prometheus.Metric) {
	frontend.Lock()
	defer frontend.Unlock()

	frontend.hosts.Collect(ch)
	frontend.hostsByState.Collect(ch)
	frontend.jobs.Collect(ch)
	frontend.jobsByState.Collect(ch)
	frontend.gpus.Collect(ch)
	frontend.gpusByGpuName.Collect(ch)
	frontend.vram.Collect(ch)
	frontend.vramByGpuName.Collect(ch)
	frontend.vramAvailable.Collect(ch)
	frontend.vramQueued.Collect(ch)
}
