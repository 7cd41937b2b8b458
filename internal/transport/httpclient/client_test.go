package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pipetools/cisync/internal/config"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
)

func TestHealthAuthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/api/v4/version" {
			http.NotFound(writer, request)
			return
		}
		if request.Header.Get("PRIVATE-TOKEN") != "secret" {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewFromConfig(config.AppConfig{HostURL: server.URL, Token: "secret"})
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !health.Healthy || !health.Authenticated {
		t.Fatalf("expected healthy authenticated state, got: %+v", health)
	}
}

func TestHealthUnauthorizedButReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewFromConfig(config.AppConfig{HostURL: server.URL})
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !health.Healthy || health.Authenticated {
		t.Fatalf("expected healthy but unauthenticated state, got: %+v", health)
	}
}

func TestHealthServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewFromConfig(config.AppConfig{HostURL: server.URL})
	_, err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	if apperrors.ExitCode(err) != 10 {
		t.Fatalf("expected transient exit code 10, got %d", apperrors.ExitCode(err))
	}
}

func TestPostMultipartSendsFormFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := request.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart form, got: %v", err)
			writer.WriteHeader(http.StatusBadRequest)
			return
		}

		if request.FormValue("ref") != "feature-a" {
			t.Errorf("expected ref field feature-a, got: %q", request.FormValue("ref"))
		}
		if request.FormValue("variables[CLEANUP]") != "true" {
			t.Errorf("expected variables[CLEANUP] field, got: %q", request.FormValue("variables[CLEANUP]"))
		}

		writer.WriteHeader(http.StatusCreated)
		_, _ = writer.Write([]byte(`{"id": 42}`))
	}))
	defer server.Close()

	client := NewFromConfig(config.AppConfig{HostURL: server.URL})
	body, status, err := client.PostMultipart(context.Background(), "/api/v4/projects/7/trigger/pipeline", map[string]string{
		"ref":                "feature-a",
		"token":              "trigger-token",
		"variables[CLEANUP]": "true",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}

	if len(body) == 0 {
		t.Fatal("expected response body")
	}
}

func TestPostMultipartRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if calls.Add(1) < 3 {
			writer.WriteHeader(http.StatusBadGateway)
			return
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewFromConfig(config.AppConfig{HostURL: server.URL})
	_, status, err := client.PostMultipart(context.Background(), "/hook", nil)
	if err != nil {
		t.Fatalf("expected retries to recover, got: %v", err)
	}

	if status != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d", status)
	}

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestPostMultipartMapsClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.NotFound(writer, request)
	}))
	defer server.Close()

	client := NewFromConfig(config.AppConfig{HostURL: server.URL})
	_, _, err := client.PostMultipart(context.Background(), "/hook", nil)
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not_found error, got: %v", err)
	}
}

func TestPostMultipartAbsoluteURLBypassesBase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewFromConfig(config.AppConfig{HostURL: "http://unreachable.invalid"})
	_, status, err := client.PostMultipart(context.Background(), server.URL+"/hook", nil)
	if err != nil {
		t.Fatalf("expected absolute URL to be used directly, got: %v", err)
	}

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
}
