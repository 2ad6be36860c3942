/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package restapi

const (
	JobQueued    = "queued"
	JobAssigned  = "assigned"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCanceling = "canceling"
	JobCanceled  = "canceled"
)

const (
	ExitStatusUnknown  = "unknown"
	ExitStatusSuccess  = "success"
	ExitStatusFailure  = "failure"
	ExitStatusCanceled = "canceled"
)

// ExitCodeUnknown marks jobs whose remote command never reported an exit
// status, e.g. a lost connection or a kill.
const ExitCodeUnknown = -1

const (
	HostActive      = "active"
	HostDisabled    = "disabled"
	HostUnreachable = "unreachable"
	HostClosed      = "closed"
)

type Gpu struct {
	Index    int    `json:"index"`
	Uuid     string `json:"uuid"`
	Name     string `json:"name"`
	Vendor   string `json:"vendor"`
	VendorId uint32 `json:"vendorId"`
	DeviceId uint32 `json:"deviceId"`
	Driver   string `json:"driver"`
	Vram     uint64 `json:"vram"`
	PciBus   string `json:"pciBus"`
}

type GpuRequirements struct {
	VramRequired uint64 `json:"vramRequired"`
}

// GpuPolicy restricts which of a host's GPUs jobs may be scheduled onto.
type GpuPolicy struct {
	AllowedIndices []int `json:"allowedIndices,omitempty"`
	OnlyIdle       bool  `json:"onlyIdle,omitempty"`
	MaxJobsPerGpu  int   `json:"maxJobsPerGpu,omitempty"`
}

type Host struct {
	Id    string `json:"id"`
	State string `json:"state"`
	Name  string `json:"name"`

	Address  string `json:"address"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	// One credential form is required, password or key file
	Password      string `json:"password,omitempty"`
	KeyFile       string `json:"keyFile,omitempty"`
	KeyPassphrase string `json:"keyPassphrase,omitempty"`

	Interpreter  string `json:"interpreter,omitempty"`
	ChannelSlots int    `json:"channelSlots"`

	Policy GpuPolicy `json:"policy"`

	Gpus []Gpu `json:"gpus"`

	Labels map[string]string `json:"labels"`
	Taints map[string]string `json:"taints"`
}

type JobGpu struct {
	Index int `json:"index"`

	VramRequired uint64 `json:"vramRequired"`
}

type JobRequirements struct {
	Gpus []GpuRequirements `json:"gpus"`

	MatchLabels map[string]string `json:"matchLabels"`
	Tolerates   map[string]string `json:"tolerates"`
}

type SubmitJob struct {
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
	Workdir string            `json:"workdir,omitempty"`

	Requirements JobRequirements `json:"requirements"`
}

type Job struct {
	Id     string `json:"id"`
	State  string `json:"state"`
	HostId string `json:"hostId,omitempty"`

	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
	Workdir string            `json:"workdir,omitempty"`

	Gpus []JobGpu `json:"gpus,omitempty"`

	ExitStatus string `json:"exitStatus"`
	ExitCode   int    `json:"exitCode"`
	Output     string `json:"output,omitempty"`
}

type JobUpdate struct {
	Id         string `json:"id"`
	State      string `json:"state"`
	ExitStatus string `json:"exitStatus,omitempty"`
	ExitCode   int    `json:"exitCode,omitempty"`
	Output     string `json:"output,omitempty"`
}

type Status struct {
	State    string `json:"state"`
	Version  string `json:"version"`
	Hostname string `json:"hostname"`
}
