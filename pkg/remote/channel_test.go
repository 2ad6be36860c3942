/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package remote

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

func testChannel(slots int) *Channel {
	channel := &Channel{slots: int64(slots)}
	channel.free.Store(channel.slots)
	return channel
}

func TestSlotAccounting(t *testing.T) {
	channel := testChannel(2)

	if !channel.TryReserveSlot() {
		t.FailNow()
	}
	if !channel.TryReserveSlot() {
		t.FailNow()
	}

	if channel.TryReserveSlot() {
		t.Error("reserved a slot beyond capacity")
	}

	channel.ReleaseSlot()

	if !channel.TryReserveSlot() {
		t.Error("expected a slot after release")
	}

	if channel.FreeSlots() != 0 {
		t.Errorf("expected zero free slots, received %d", channel.FreeSlots())
	}
}

func TestSlotAccountingConcurrent(t *testing.T) {
	slots := 8
	channel := testChannel(slots)

	var reserved sync.Map
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if channel.TryReserveSlot() {
				reserved.Store(i, struct{}{})
			}
		}(i)
	}

	wg.Wait()

	count := 0
	reserved.Range(func(any, any) bool {
		count++
		return true
	})

	if count != slots {
		t.Errorf("expected exactly %d reservations, received %d", slots, count)
	}
}

func TestReleaseUnreservedSlot(t *testing.T) {
	channel := testChannel(1)

	defer func() {
		if recover() == nil {
			t.Error("expected a panic releasing a slot that was never reserved")
		}
	}()

	channel.ReleaseSlot()
}

func TestAuthMethodsMissingKeyFile(t *testing.T) {
	host, err := NewHost(restapi.Host{
		Name:     "test",
		Address:  "10.0.0.1",
		Username: "tasknet",
		KeyFile:  "/nonexistent/id_ed25519",
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	_, err = authMethods(host)
	if !errors.Is(err, ErrAuth) {
		t.Errorf("expected ErrAuth, received %v", err)
	}
}

func TestOpenChannelRefusedConnection(t *testing.T) {
	host, err := NewHost(restapi.Host{
		Name:     "test",
		Address:  "127.0.0.1",
		Port:     1, // nothing listens here
		Username: "tasknet",
		Password: "hunter2",
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	_, err = OpenChannel(context.Background(), host)
	if !errors.Is(err, ErrConnect) {
		t.Errorf("expected ErrConnect, received %v", err)
	}
}

func TestOpenChannelHandshakeTimeout(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	defer listener.Close()

	// Accept the connection but never speak SSH
	stall := make(chan struct{})
	defer close(stall)

	go func() {
		conn, err := listener.Accept()
		if err == nil {
			defer conn.Close()
			<-stall
		}
	}()

	host, err := NewHost(restapi.Host{
		Name:     "test",
		Address:  "127.0.0.1",
		Port:     listener.Addr().(*net.TCPAddr).Port,
		Username: "tasknet",
		Password: "hunter2",
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = OpenChannel(ctx, host)
	if !errors.Is(err, ErrConnect) {
		t.Errorf("expected ErrConnect, received %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("open did not return when its context expired")
	}
}

func TestJoinCommand(t *testing.T) {
	testCases := map[string]struct {
		command  []string
		expected string
	}{
		"plain":       {[]string{"nvidia-smi", "-L"}, "nvidia-smi -L"},
		"spaces":      {[]string{"echo", "hello world"}, `echo "hello world"`},
		"shell chars": {[]string{"sh", "-c", "a|b"}, `sh -c "a|b"`},
		"env refs":    {[]string{"echo", "$HOME"}, `echo "$HOME"`},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			joined := joinCommand(testCase.command)
			if joined != testCase.expected {
				t.Errorf("expected %q, received %q", testCase.expected, joined)
			}
		})
	}
}
