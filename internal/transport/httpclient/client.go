package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pipetools/cisync/internal/config"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
)

type Client struct {
	baseURL string
	http    *http.Client
	token   string
	retries int
}

type HealthStatus struct {
	Healthy       bool   `json:"healthy"`
	StatusCode    int    `json:"status_code"`
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
}

func NewFromConfig(cfg config.AppConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.HostURL, "/"),
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
		token:   cfg.Token,
		retries: 2,
	}
}

// PostMultipart sends a multipart/form-data POST and returns the response
// body and status on 2xx. Transport failures, 429 and 5xx are retried.
func (client *Client) PostMultipart(ctx context.Context, pathOrURL string, fields map[string]string) ([]byte, int, error) {
	requestURL, err := client.resolveURL(pathOrURL)
	if err != nil {
		return nil, 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= client.retries; attempt++ {
		// The form body is consumed by each send, so it is rebuilt per attempt.
		body, contentType, err := encodeForm(fields)
		if err != nil {
			return nil, 0, apperrors.New(apperrors.KindInternal, "failed to encode form", err)
		}

		request, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, body)
		if err != nil {
			return nil, 0, apperrors.New(apperrors.KindInternal, "failed to build request", err)
		}

		request.Header.Set("Content-Type", contentType)
		request.Header.Set("Accept", "application/json")
		client.applyAuth(request)

		response, err := client.http.Do(request)
		if err != nil {
			lastErr = apperrors.New(apperrors.KindTransient, "request failed", err)
			if attempt < client.retries {
				time.Sleep(time.Duration(attempt+1) * 250 * time.Millisecond)
				continue
			}
			return nil, 0, lastErr
		}

		responseBody, readErr := io.ReadAll(response.Body)
		_ = response.Body.Close()
		if readErr != nil {
			return nil, 0, apperrors.New(apperrors.KindTransient, "failed to read response", readErr)
		}

		if response.StatusCode >= 200 && response.StatusCode < 300 {
			return responseBody, response.StatusCode, nil
		}

		mappedErr := mapStatusError(response.StatusCode, responseBody)
		if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
			lastErr = mappedErr
			if attempt < client.retries {
				time.Sleep(time.Duration(attempt+1) * 250 * time.Millisecond)
				continue
			}
			return nil, 0, lastErr
		}

		return nil, 0, mappedErr
	}

	if lastErr != nil {
		return nil, 0, lastErr
	}

	return nil, 0, apperrors.New(apperrors.KindTransient, "request failed after retries", nil)
}

func (client *Client) Health(ctx context.Context) (HealthStatus, error) {
	if client.baseURL == "" {
		return HealthStatus{}, apperrors.New(apperrors.KindValidation, "no CI host configured", nil)
	}

	requestURL, err := url.Parse(client.baseURL + "/api/v4/version")
	if err != nil {
		return HealthStatus{}, apperrors.New(apperrors.KindValidation, "invalid health probe URL", err)
	}

	var lastErr error
	for attempt := 0; attempt <= client.retries; attempt++ {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
		if err != nil {
			return HealthStatus{}, apperrors.New(apperrors.KindInternal, "failed to build health request", err)
		}

		request.Header.Set("Accept", "application/json")
		client.applyAuth(request)

		response, err := client.http.Do(request)
		if err != nil {
			lastErr = apperrors.New(apperrors.KindTransient, "health probe failed", err)
			if attempt < client.retries {
				time.Sleep(time.Duration(attempt+1) * 250 * time.Millisecond)
				continue
			}
			return HealthStatus{}, lastErr
		}

		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()

		switch {
		case response.StatusCode >= 200 && response.StatusCode < 300:
			return HealthStatus{
				Healthy:       true,
				StatusCode:    response.StatusCode,
				Authenticated: true,
				Message:       "CI host reachable and authenticated",
			}, nil
		case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden || response.StatusCode >= 300 && response.StatusCode < 400:
			return HealthStatus{
				Healthy:       true,
				StatusCode:    response.StatusCode,
				Authenticated: false,
				Message:       "CI host reachable but credentials are missing or insufficient",
			}, nil
		case response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests:
			lastErr = mapStatusError(response.StatusCode, nil)
			if attempt < client.retries {
				time.Sleep(time.Duration(attempt+1) * 250 * time.Millisecond)
				continue
			}
			return HealthStatus{}, lastErr
		default:
			return HealthStatus{}, mapStatusError(response.StatusCode, nil)
		}
	}

	if lastErr != nil {
		return HealthStatus{}, lastErr
	}

	return HealthStatus{}, apperrors.New(apperrors.KindTransient, "health probe failed after retries", nil)
}

func (client *Client) resolveURL(pathOrURL string) (string, error) {
	parsed, err := url.Parse(pathOrURL)
	if err != nil {
		return "", apperrors.New(apperrors.KindValidation, "invalid request URL", err)
	}

	if parsed.IsAbs() {
		return pathOrURL, nil
	}

	if client.baseURL == "" {
		return "", apperrors.New(apperrors.KindValidation, "no CI host configured for relative request path", nil)
	}

	return client.baseURL + pathOrURL, nil
}

func (client *Client) applyAuth(request *http.Request) {
	if client.token != "" {
		request.Header.Set("PRIVATE-TOKEN", client.token)
	}
}

func encodeForm(fields map[string]string) (io.Reader, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := writer.WriteField(name, fields[name]); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &body, writer.FormDataContentType(), nil
}

func mapStatusError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}

	baseMessage := fmt.Sprintf("CI host returned %d: %s", status, message)

	switch status {
	case http.StatusUnauthorized:
		return apperrors.New(apperrors.KindAuthentication, baseMessage, nil)
	case http.StatusForbidden:
		return apperrors.New(apperrors.KindAuthorization, baseMessage, nil)
	case http.StatusNotFound:
		return apperrors.New(apperrors.KindNotFound, baseMessage, nil)
	case http.StatusBadRequest:
		return apperrors.New(apperrors.KindValidation, baseMessage, nil)
	case http.StatusTooManyRequests:
		return apperrors.New(apperrors.KindTransient, baseMessage, nil)
	default:
		if status >= 500 {
			return apperrors.New(apperrors.KindTransient, baseMessage, nil)
		}
		return apperrors.New(apperrors.KindPermanent, baseMessage, nil)
	}
}
