/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/tasknet-io/tasknet/cmd/internal/build"
	"github.com/tasknet-io/tasknet/pkg/appmain"
	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/gpu"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/task"
)

// gpuprobe runs on a GPU host and prints the NVML inventory as the JSON
// expected in the gpus field of a host registration.

var (
	indent = flag.Bool("indent", false, "Pretty prints the JSON output")

	errNvml = errors.New("nvml error")
)

func nvmlError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}

	return errNvml.Wrap(errors.New(nvml.ErrorString(ret)))
}

func probeGpus() ([]restapi.Gpu, error) {
	if err := nvmlError(nvml.Init()); err != nil {
		return nil, err
	}
	defer nvml.Shutdown()

	driver, ret := nvml.SystemGetDriverVersion()
	if err := nvmlError(ret); err != nil {
		return nil, err
	}

	count, ret := nvml.DeviceGetCount()
	if err := nvmlError(ret); err != nil {
		return nil, err
	}

	gpus := make([]restapi.Gpu, 0, count)
	for index := 0; index < count; index++ {
		device, ret := nvml.DeviceGetHandleByIndex(index)
		if err := nvmlError(ret); err != nil {
			return nil, err
		}

		name, ret := device.GetName()
		if err := nvmlError(ret); err != nil {
			return nil, err
		}

		uuid, ret := device.GetUUID()
		if err := nvmlError(ret); err != nil {
			return nil, err
		}

		memory, ret := device.GetMemoryInfo()
		if err := nvmlError(ret); err != nil {
			return nil, err
		}

		pci, ret := device.GetPciInfo()
		if err := nvmlError(ret); err != nil {
			return nil, err
		}

		busId := make([]byte, 0, len(pci.BusId))
		for _, char := range pci.BusId {
			if char == 0 {
				break
			}

			busId = append(busId, byte(char))
		}

		// NVML reports the bus id with a 32-bit domain, normalize it
		pciBus := string(busId)
		if address := gpu.NewPCIAddressFromString(pciBus); address.Valid() {
			pciBus = address.String()
		}

		gpus = append(gpus, restapi.Gpu{
			Index:    index,
			Uuid:     uuid,
			Name:     name,
			Vendor:   "NVIDIA",
			VendorId: pci.PciDeviceId & 0xffff,
			DeviceId: pci.PciDeviceId >> 16,
			Driver:   driver,
			Vram:     memory.Total,
			PciBus:   pciBus,
		})
	}

	return gpus, nil
}

func main() {
	appmain.Run("gpuprobe", build.Version, func(group task.Group) error {
		defer group.Cancel()

		gpus, err := probeGpus()
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		if *indent {
			encoder.SetIndent("", "  ")
		}

		return encoder.Encode(gpus)
	})
}
