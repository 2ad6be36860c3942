/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package frontend

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tasknet-io/tasknet/cmd/internal/build"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/pkg/logger"
	pkgnet "github.com/tasknet-io/tasknet/pkg/net"
	"github.com/tasknet-io/tasknet/pkg/restapi"
	"github.com/tasknet-io/tasknet/pkg/server"
)

func (frontend *Frontend) initializeEndpoints(server *server.Server) {
	server.AddEndpointFunc("GET", "/v1/status", frontend.getStatusEp)
	server.AddProtectedEndpointFunc("POST", "/v1/register/host", frontend.registerHostEp)
	server.AddEndpointFunc("GET", "/v1/host/{id}", frontend.getHostEp)
	server.AddProtectedEndpointFunc("PUT", "/v1/host/{id}/state", frontend.setHostStateEp)
	server.AddProtectedEndpointFunc("PUT", "/v1/host/{id}/gpus", frontend.updateHostGpusEp)
	server.AddProtectedEndpointFunc("DELETE", "/v1/host/{id}", frontend.removeHostEp)
	server.AddEndpointFunc("GET", "/v1/hosts", frontend.getHostsEp)
	server.AddProtectedEndpointFunc("POST", "/v1/submit/job", frontend.submitJobEp)
	server.AddEndpointFunc("GET", "/v1/job/{id}", frontend.getJobEp)
	server.AddProtectedEndpointFunc("DELETE", "/v1/job/{id}", frontend.cancelJobEp)
}

func errorCode(err error) int {
	if storage.IsNotFound(err) {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

func (frontend *Frontend) getStatusEp(w http.ResponseWriter, r *http.Request) {
	err := pkgnet.Respond(w, http.StatusOK, restapi.Status{
		State:    "Active",
		Version:  build.Version,
		Hostname: frontend.hostname,
	})

	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusInternalServerError, err.Error()))
		logger.Error(err)
	}
}

func (frontend *Frontend) registerHostEp(w http.ResponseWriter, r *http.Request) {
	host, err := pkgnet.ReadRequestBody[restapi.Host](r)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusBadRequest, err.Error()))
		logger.Error(err)
		return
	}

	id, err := frontend.registerHost(host)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusInternalServerError, err.Error()))
		logger.Error(err)
		return
	}

	err = pkgnet.RespondWithString(w, http.StatusOK, id)
	if err != nil {
		logger.Error(err)
	}
}

func (frontend *Frontend) getHostEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	host, err := frontend.getHostById(id)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, errorCode(err), err.Error()))
		logger.Error(err)
		return
	}

	pkgnet.Respond(w, http.StatusOK, host)
}

func (frontend *Frontend) setHostStateEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	state, err := pkgnet.ReadRequestBody[string](r)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusBadRequest, err.Error()))
		logger.Error(err)
		return
	}

	err = frontend.setHostState(id, state)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, errorCode(err), err.Error()))
		logger.Error(err)
		return
	}

	pkgnet.RespondEmpty(w, http.StatusOK)
}

func (frontend *Frontend) updateHostGpusEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	gpus, err := pkgnet.ReadRequestBody[[]restapi.Gpu](r)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusBadRequest, err.Error()))
		logger.Error(err)
		return
	}

	err = frontend.updateHostGpus(id, gpus)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, errorCode(err), err.Error()))
		logger.Error(err)
		return
	}

	pkgnet.RespondEmpty(w, http.StatusOK)
}

func (frontend *Frontend) removeHostEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := frontend.removeHost(id)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, errorCode(err), err.Error()))
		logger.Error(err)
		return
	}

	pkgnet.RespondEmpty(w, http.StatusOK)
}

func (frontend *Frontend) getHostsEp(w http.ResponseWriter, r *http.Request) {
	hosts, err := frontend.getHosts()
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusInternalServerError, err.Error()))
		logger.Error(err)
		return
	}

	pkgnet.Respond(w, http.StatusOK, hosts)
}

func (frontend *Frontend) submitJobEp(w http.ResponseWriter, r *http.Request) {
	submit, err := pkgnet.ReadRequestBody[restapi.SubmitJob](r)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusBadRequest, err.Error()))
		logger.Error(err)
		return
	}

	if len(submit.Command) == 0 {
		err = errors.New("/v1/submit/job: command must not be empty")
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusBadRequest, err.Error()))
		logger.Error(err)
		return
	}

	id, err := frontend.submitJob(submit)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, http.StatusInternalServerError, err.Error()))
		logger.Error(err)
		return
	}

	err = pkgnet.RespondWithString(w, http.StatusOK, id)
	if err != nil {
		logger.Error(err)
	}
}

func (frontend *Frontend) getJobEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := frontend.getJobById(id)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, errorCode(err), err.Error()))
		logger.Error(err)
		return
	}

	pkgnet.Respond(w, http.StatusOK, job)
}

func (frontend *Frontend) cancelJobEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := frontend.cancelJob(id)
	if err != nil {
		err = errors.Join(err, pkgnet.RespondWithString(w, errorCode(err), err.Error()))
		logger.Error(err)
		return
	}

	pkgnet.RespondEmpty(w, http.StatusOK)
}
