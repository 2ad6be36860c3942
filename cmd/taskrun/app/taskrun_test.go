/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/task"
)

func jobServer(t *testing.T, handler http.HandlerFunc) restapi.Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return restapi.Client{
		Client:  server.Client(),
		Address: server.Listener.Addr().String(),
	}
}

func setQueueTimeout(t *testing.T, seconds uint) {
	previous := *queueTimeout
	*queueTimeout = seconds
	t.Cleanup(func() { *queueTimeout = previous })
}

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs([]string{"A=1", "B=two=2"}, "env")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if len(pairs) != 2 || pairs["A"] != "1" || pairs["B"] != "two=2" {
		t.Errorf("pairs do not round-trip, received %v", pairs)
	}

	for _, invalid := range []string{"novalue", "=1"} {
		_, err = parsePairs([]string{invalid}, "env")
		if err == nil {
			t.Errorf("expected an error for '%s'", invalid)
		}
	}
}

func TestWaitForJobQueueTimeout(t *testing.T) {
	api := jobServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(restapi.Job{Id: "test", State: restapi.JobQueued})
	})

	setQueueTimeout(t, 1)

	group := task.NewTaskManager(context.Background())

	_, err := waitForJob(api, group, "test")
	if !errors.Is(err, errQueueTimeout) {
		t.Errorf("expected a queue timeout, received %v", err)
	}

	group.Cancel()
	if err := group.Wait(); err != nil {
		t.Errorf("expected a clean shutdown, received %v", err)
	}
}

func TestWaitForJobTimeoutAfterCompletion(t *testing.T) {
	var polls atomic.Int32
	api := jobServer(t, func(w http.ResponseWriter, r *http.Request) {
		job := restapi.Job{Id: "test", State: restapi.JobQueued}
		if polls.Add(1) > 1 {
			job.State = restapi.JobCompleted
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	})

	// The job completes before the timeout fires, the timeout task is
	// still live when waitForJob returns
	setQueueTimeout(t, 3)

	group := task.NewTaskManager(context.Background())

	job, err := waitForJob(api, group, "test")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if job.State != restapi.JobCompleted {
		t.Errorf("expected a completed job, received state %s", job.State)
	}

	// Let the timeout fire with nobody listening
	time.Sleep(1500 * time.Millisecond)

	group.Cancel()
	if err := group.Wait(); err != nil {
		t.Errorf("expected a clean shutdown, received %v", err)
	}
}
