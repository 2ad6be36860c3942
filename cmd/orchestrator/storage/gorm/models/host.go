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

type HostState int

const (
	HostStateUnknown HostState = iota
	HostStateActive
	HostStateDisabled
	HostStateUnreachable
	HostStateClosed
)

var (
	hostStateMappings = map[string]HostState{
		"unknown":     HostStateUnknown,
		"active":      HostStateActive,
		"disabled":    HostStateDisabled,
		"unreachable": HostStateUnreachable,
		"closed":      HostStateClosed,
	}
)

func HostStateFromString(value string) HostState {
	state, ok := hostStateMappings[strings.ToLower(value)]
	if !ok {
		return HostStateUnknown
	}
	return state
}

func (hs HostState) String() string {
	switch hs {
	case HostStateUnknown:
		return "unknown"
	case HostStateActive:
		return "active"
	case HostStateDisabled:
		return "disabled"
	case HostStateUnreachable:
		return "unreachable"
	case HostStateClosed:
		return "closed"
	}
	panic(fmt.Sprintf("invalid HostState, %d", hs))
}

type KeyValue struct {
	ID    uint
	Key   string `gorm:"notnull"`
	Value string `gorm:"notnull"`
}

type Host struct {
	gorm.Model

	UUID          uuid.UUID `gorm:"type:uuid;notnull;unique"`
	State         HostState
	Name          string
	Address       string
	Port          int
	Username      string
	Password      string
	KeyFile       string
	KeyPassphrase string
	Interpreter   string
	ChannelSlots  int
	Policy        datatypes.JSON
	Gpus          datatypes.JSON
	VramAvailable uint64

	Labels []KeyValue `gorm:"many2many:host_labels;constraint:OnDelete:CASCADE;"`
	Taints []KeyValue `gorm:"many2many:host_taints;constraint:OnDelete:CASCADE;"`
	Jobs   []Job
}
