/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package models

import (
	"fmt"
	"strings"

	uuid "github.com/satori/go.uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobState int

const (
	JobStateUnknown JobState = iota
	JobStateQueued
	JobStateAssigned
	JobStateRunning
	JobStateCompleted
	JobStateFailed
	JobStateCanceling
	JobStateCanceled
)

var (
	jobStateMappings = map[string]JobState{
		"unknown":   JobStateUnknown,
		"queued":    JobStateQueued,
		"assigned":  JobStateAssigned,
		"running":   JobStateRunning,
		"completed": JobStateCompleted,
		"failed":    JobStateFailed,
		"canceling": JobStateCanceling,
		"canceled":  JobStateCanceled,
	}
)

func JobStateFromString(value string) JobState {
	state, ok := jobStateMappings[strings.ToLower(value)]
	if !ok {
		return JobStateUnknown
	}
	return state
}

func (js JobState) String() string {
	switch js {
	case JobStateUnknown:
		return "unknown"
	case JobStateQueued:
		return "queued"
	case JobStateAssigned:
		return "assigned"
	case JobStateRunning:
		return "running"
	case JobStateCompleted:
		return "completed"
	case JobStateFailed:
		return "failed"
	case JobStateCanceling:
		return "canceling"
	case JobStateCanceled:
		return "canceled"
	}
	panic(fmt.Sprintf("invalid JobState, %d", js))
}

func (js JobState) Terminal() bool {
	switch js {
	case JobStateCompleted, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

type ExitStatus int

const (
	ExitStatusUnknown ExitStatus = iota
	ExitStatusSuccess
	ExitStatusFailure
	ExitStatusCanceled
)

var (
	exitStatusMappings = map[string]ExitStatus{
		"unknown":  ExitStatusUnknown,
		"success":  ExitStatusSuccess,
		"failure":  ExitStatusFailure,
		"canceled": ExitStatusCanceled,
	}
)

func ExitStatusFromString(value string) ExitStatus {
	status, ok := exitStatusMappings[strings.ToLower(value)]
	if !ok {
		return ExitStatusUnknown
	}
	return status
}

func (es ExitStatus) String() string {
	switch es {
	case ExitStatusUnknown:
		return "unknown"
	case ExitStatusSuccess:
		return "success"
	case ExitStatusFailure:
		return "failure"
	case ExitStatusCanceled:
		return "canceled"
	}
	panic(fmt.Sprintf("invalid ExitStatus, %d", es))
}

type Job struct {
	gorm.Model

	UUID         uuid.UUID `gorm:"type:uuid;notnull;unique"`
	HostID       *uint
	Host         *Host
	State        JobState
	Command      datatypes.JSON
	Env          datatypes.JSON
	Workdir      string
	GPUs         datatypes.JSON
	Requirements datatypes.JSON
	VramRequired uint64
	ExitStatus   ExitStatus
	ExitCode     int
	Output       string

	Labels    []KeyValue `gorm:"many2many:job_labels;constraint:OnDelete:CASCADE;"`
	Tolerates []KeyValue `gorm:"many2many:job_tolerates;constraint:OnDelete:CASCADE;"`
}
