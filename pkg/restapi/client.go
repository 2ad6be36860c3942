/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package restapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type Client struct {
	Client      *http.Client
	Scheme      string
	Address     string
	AccessToken string
}

func (api Client) do(ctx context.Context, method string, path string, contentType string, body io.Reader) (*http.Response, error) {
	scheme := api.Scheme
	if scheme == "" {
		scheme = "http"
	}

	url := url.URL{
		Scheme: scheme,
		Host:   api.Address,
		Path:   path,
	}

	request, err := http.NewRequestWithContext(ctx, method, url.String(), body)
	if err != nil {
		return nil, err
	}

	if body != nil {
		request.Header.Add("Content-Type", contentType)
	}

	if api.AccessToken != "" {
		request.Header.Add("Authorization", fmt.Sprint("Bearer ", api.AccessToken))
	}

	return api.Client.Do(request)
}

func (api Client) get(ctx context.Context, path string) (*http.Response, error) {
	return api.do(ctx, "GET", path, "", nil)
}

func (api Client) delete(ctx context.Context, path string) (*http.Response, error) {
	return api.do(ctx, "DELETE", path, "", nil)
}

func (api Client) postWithJson(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	return api.do(ctx, "POST", path, "application/json", body)
}

func (api Client) putWithJson(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	return api.do(ctx, "PUT", path, "application/json", body)
}

func (api Client) Status() (Status, error) {
	return api.StatusWithContext(context.Background())
}

func (api Client) StatusWithContext(ctx context.Context) (Status, error) {
	response, err := api.get(ctx, "/v1/status")
	if err != nil {
		return Status{}, err
	}
	defer response.Body.Close()

	return parseJsonResponse[Status](response)
}

func (api Client) RegisterHost(host Host) (string, error) {
	return api.RegisterHostWithContext(context.Background(), host)
}

func (api Client) RegisterHostWithContext(ctx context.Context, host Host) (string, error) {
	body, err := jsonReaderFromObject(host)
	if err != nil {
		return "", err
	}

	response, err := api.postWithJson(ctx, "/v1/register/host", body)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	return parseStringResponse(response)
}

func (api Client) GetHost(id string) (Host, error) {
	return api.GetHostWithContext(context.Background(), id)
}

func (api Client) GetHostWithContext(ctx context.Context, id string) (Host, error) {
	response, err := api.get(ctx, fmt.Sprint("/v1/host/", id))
	if err != nil {
		return Host{}, err
	}
	defer response.Body.Close()

	return parseJsonResponse[Host](response)
}

func (api Client) GetHosts() ([]Host, error) {
	return api.GetHostsWithContext(context.Background())
}

func (api Client) GetHostsWithContext(ctx context.Context) ([]Host, error) {
	response, err := api.get(ctx, "/v1/hosts")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	return parseJsonResponse[[]Host](response)
}

func (api Client) SetHostState(id string, state string) error {
	return api.SetHostStateWithContext(context.Background(), id, state)
}

func (api Client) SetHostStateWithContext(ctx context.Context, id string, state string) error {
	body, err := jsonReaderFromObject(state)
	if err != nil {
		return err
	}

	response, err := api.putWithJson(ctx, fmt.Sprint("/v1/host/", id, "/state"), body)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	return validateResponse(response)
}

func (api Client) UpdateHostGpus(id string, gpus []Gpu) error {
	return api.UpdateHostGpusWithContext(context.Background(), id, gpus)
}

func (api Client) UpdateHostGpusWithContext(ctx context.Context, id string, gpus []Gpu) error {
	body, err := jsonReaderFromObject(gpus)
	if err != nil {
		return err
	}

	response, err := api.putWithJson(ctx, fmt.Sprint("/v1/host/", id, "/gpus"), body)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	return validateResponse(response)
}

func (api Client) RemoveHost(id string) error {
	return api.RemoveHostWithContext(context.Background(), id)
}

func (api Client) RemoveHostWithContext(ctx context.Context, id string) error {
	response, err := api.delete(ctx, fmt.Sprint("/v1/host/", id))
	if err != nil {
		return err
	}
	defer response.Body.Close()

	return validateResponse(response)
}

func (api Client) SubmitJob(submit SubmitJob) (string, error) {
	return api.SubmitJobWithContext(context.Background(), submit)
}

func (api Client) SubmitJobWithContext(ctx context.Context, submit SubmitJob) (string, error) {
	body, err := jsonReaderFromObject(submit)
	if err != nil {
		return "", err
	}

	response, err := api.postWithJson(ctx, "/v1/submit/job", body)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	return parseStringResponse(response)
}

func (api Client) GetJob(id string) (Job, error) {
	return api.GetJobWithContext(context.Background(), id)
}

func (api Client) GetJobWithContext(ctx context.Context, id string) (Job, error) {
	response, err := api.get(ctx, fmt.Sprint("/v1/job/", id))
	if err != nil {
		return Job{}, err
	}
	defer response.Body.Close()

	return parseJsonResponse[Job](response)
}

func (api Client) CancelJob(id string) error {
	return api.CancelJobWithContext(context.Background(), id)
}

func (api Client) CancelJobWithContext(ctx context.Context, id string) error {
	response, err := api.delete(ctx, fmt.Sprint("/v1/job/", id))
	if err != nil {
		return err
	}
	defer response.Body.Close()

	return validateResponse(response)
}
