/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package gpu

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/tasknet-io/tasknet/pkg/restapi"
)

type Gpu struct {
	restapi.Gpu

	availableVram uint64
	jobs          int
}

type SelectedGpu struct {
	gpu *Gpu

	requiredVram uint64
}

type GpuSet []*Gpu
type SelectedGpuSet []SelectedGpu

func NewGpuSet(gpus []restapi.Gpu) GpuSet {
	gpuSet := GpuSet{}
	for _, gpu := range gpus {
		gpuSet = append(gpuSet, &Gpu{
			Gpu:           gpu,
			availableVram: gpu.Vram,
		})
	}

	return gpuSet
}

// RestoreGpuSet rebuilds a set whose GPUs already carry claims, one per
// previously placed job GPU. Each claim deducts its VRAM and counts as a
// job, exactly as if it had just been selected. Claims referring to
// unknown GPU indices, or exceeding a GPU's VRAM, are an error.
func RestoreGpuSet(gpus []restapi.Gpu, claims []restapi.JobGpu) (GpuSet, error) {
	gpuSet := NewGpuSet(gpus)

	for _, claim := range claims {
		position := slices.IndexFunc(gpuSet, func(gpu *Gpu) bool {
			return gpu.Index == claim.Index
		})
		if position < 0 {
			return nil, fmt.Errorf("claim refers to unknown GPU index %d", claim.Index)
		}

		gpu := gpuSet[position]
		if gpu.availableVram < claim.VramRequired {
			return nil, fmt.Errorf("claims on GPU index %d exceed its VRAM", claim.Index)
		}

		gpu.availableVram -= claim.VramRequired
		gpu.jobs++
	}

	return gpuSet, nil
}

func UnmarshalGpuSet(data []byte) (GpuSet, error) {
	var gpus []restapi.Gpu
	err := json.Unmarshal(data, &gpus)
	if err != nil {
		return nil, err
	}

	return NewGpuSet(gpus), nil
}

func (gpus GpuSet) GetGpus() []restapi.Gpu {
	publicGpus := make([]restapi.Gpu, len(gpus))

	for i := 0; i < len(gpus); i++ {
		publicGpus[i] = gpus[i].Gpu
	}

	return publicGpus
}

func (gpus GpuSet) Occupancy() map[int]int {
	occupancy := map[int]int{}
	for _, gpu := range gpus {
		if gpu.jobs > 0 {
			occupancy[gpu.Index] = gpu.jobs
		}
	}

	return occupancy
}

func (gpus SelectedGpuSet) GetGpus() []restapi.JobGpu {
	publicGpus := make([]restapi.JobGpu, len(gpus))

	for i := 0; i < len(gpus); i++ {
		publicGpus[i] = restapi.JobGpu{
			Index:        gpus[i].gpu.Index,
			VramRequired: gpus[i].requiredVram,
		}
	}

	return publicGpus
}

func (gpus GpuSet) eligible(gpu *Gpu, policy restapi.GpuPolicy) bool {
	if len(policy.AllowedIndices) > 0 && !slices.Contains(policy.AllowedIndices, gpu.Index) {
		return false
	}

	if policy.OnlyIdle && gpu.jobs > 0 {
		return false
	}

	if policy.MaxJobsPerGpu > 0 && gpu.jobs >= policy.MaxJobsPerGpu {
		return false
	}

	return true
}

// Find selects one GPU per requirement, honoring the host policy. Distinct
// requirements are placed on distinct GPUs. On success the selection is
// committed to the set's occupancy until Release is called.
func (gpus GpuSet) Find(requirements []restapi.GpuRequirements, policy restapi.GpuPolicy) (SelectedGpuSet, error) {
	if len(requirements) == 0 {
		return nil, errors.New("must specify at least one GPU requirement")
	}

	availableGpuIndices := make([]int, 0, len(gpus))
	for index, gpu := range gpus {
		if gpus.eligible(gpu, policy) {
			availableGpuIndices = append(availableGpuIndices, index)
		}
	}

	var selectedGpus SelectedGpuSet
	for _, requirement := range requirements {
		found := false

		for position, potentialGpuIndex := range availableGpuIndices {
			potentialGpu := gpus[potentialGpuIndex]

			if requirement.VramRequired != 0 && potentialGpu.availableVram < requirement.VramRequired {
				continue
			}

			selectedGpus = append(selectedGpus, SelectedGpu{
				gpu:          potentialGpu,
				requiredVram: requirement.VramRequired,
			})

			availableGpuIndices = slices.Delete(availableGpuIndices, position, position+1)
			found = true
			break
		}

		if !found {
			return nil, errors.New("unable to find a matching set of GPUs")
		}
	}

	for _, selected := range selectedGpus {
		selected.gpu.availableVram -= selected.requiredVram
		selected.gpu.jobs++
	}

	return selectedGpus, nil
}

// Select commits a previously recorded selection back onto the set.
func (gpus GpuSet) Select(chosen []restapi.JobGpu) (SelectedGpuSet, error) {
	if len(chosen) == 0 {
		return nil, errors.New("must specify at least one chosen GPU")
	}

	var selectedGpus SelectedGpuSet
	for _, chosenGpu := range chosen {
		position := slices.IndexFunc(gpus, func(gpu *Gpu) bool {
			return gpu.Index == chosenGpu.Index
		})
		if position < 0 {
			return nil, fmt.Errorf("chosen GPU index %d is not present", chosenGpu.Index)
		}

		gpu := gpus[position]
		if gpu.availableVram < chosenGpu.VramRequired {
			return nil, fmt.Errorf("chosen GPU index %d does not have the required VRAM", chosenGpu.Index)
		}

		selectedGpus = append(selectedGpus, SelectedGpu{
			gpu:          gpu,
			requiredVram: chosenGpu.VramRequired,
		})
	}

	for _, selected := range selectedGpus {
		selected.gpu.availableVram -= selected.requiredVram
		selected.gpu.jobs++
	}

	return selectedGpus, nil
}

// ReleaseSelection returns the occupancy recorded for a per-job GPU
// assignment, the counterpart of Select for callers holding only the
// assignment and not a SelectedGpuSet.
func (gpus GpuSet) ReleaseSelection(chosen []restapi.JobGpu) {
	for _, chosenGpu := range chosen {
		position := slices.IndexFunc(gpus, func(gpu *Gpu) bool {
			return gpu.Index == chosenGpu.Index
		})
		if position < 0 {
			continue
		}

		gpus[position].availableVram += chosenGpu.VramRequired
		gpus[position].jobs--
	}
}

func (gpus SelectedGpuSet) Release() {
	for _, selected := range gpus {
		selected.gpu.availableVram += selected.requiredVram
		selected.gpu.jobs--
	}
}
