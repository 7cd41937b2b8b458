package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/services/fetch"
	"github.com/pipetools/cisync/internal/testutil"
)

func neutralizeEnv(t *testing.T) {
	t.Helper()

	t.Setenv("CISYNC_DISABLE_STORED_CONFIG", "1")
	for _, key := range []string{
		"CISYNC_HOST", "CISYNC_USERNAME", "CISYNC_TOKEN", "CISYNC_TRIGGER_TOKEN",
		"CISYNC_BRANCH", "CISYNC_FALLBACK_BRANCH", "CISYNC_WORKSPACE", "CISYNC_MANIFEST",
		"CISYNC_RETRY_COUNT", "CISYNC_RETRY_DELAY", "CISYNC_GIT_BACKEND",
		"GITLAB_TOKEN", "GITLAB_USER_LOGIN", "CI_COMMIT_BRANCH", "CI_COMMIT_REF_NAME",
	} {
		t.Setenv(key, "")
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	command := NewRootCommand()
	buffer := &bytes.Buffer{}
	command.SetOut(buffer)
	command.SetErr(buffer)
	command.SetIn(&bytes.Buffer{})
	command.SetArgs(args)

	err := command.Execute()
	return buffer.String(), err
}

// writeSyncFixture builds two local bare repositories behind a file:// host
// and a manifest pointing at them. conf-a has the feature branch, conf-b does
// not and must fall back.
func writeSyncFixture(t *testing.T) (manifestPath string, workspace string) {
	t.Helper()

	base := t.TempDir()
	testutil.CreateBareRepoAt(t, filepath.Join(base, "ci", "conf-a.git"), "master", "feature-a")
	testutil.CreateBareRepoAt(t, filepath.Join(base, "ci", "conf-b.git"), "master")

	manifestPath = filepath.Join(t.TempDir(), "repos.yaml")
	content := fmt.Sprintf(`version: 1
defaults:
  host: file://%s
  namespace: ci
  fallback_branch: master
repos:
  - name: conf-a
    branch: feature-a
  - name: conf-b
    branch: feature-a
`, base)
	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing manifest failed: %v", err)
	}

	return manifestPath, t.TempDir()
}

func TestAuthStatusSmoke(t *testing.T) {
	neutralizeEnv(t)
	t.Setenv("CISYNC_HOST", "http://localhost:8080")

	output, err := runCommand(t, "auth", "status")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !strings.Contains(output, "Target CI host: http://localhost:8080") {
		t.Fatalf("expected auth status output, got: %s", output)
	}

	if !strings.Contains(output, "auth=none") {
		t.Fatalf("expected auth mode in output, got: %s", output)
	}

	if !strings.Contains(output, "source=env/default") {
		t.Fatalf("expected auth source in output, got: %s", output)
	}
}

func TestAuthStatusJSON(t *testing.T) {
	neutralizeEnv(t)
	t.Setenv("CISYNC_HOST", "http://localhost:8080")

	output, err := runCommand(t, "--json", "auth", "status")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		t.Fatalf("expected valid json output, got: %s (%v)", output, err)
	}

	if parsed["host"] != "http://localhost:8080" {
		t.Fatalf("unexpected host: %q", parsed["host"])
	}

	if parsed["auth_mode"] != "none" {
		t.Fatalf("unexpected auth_mode: %q", parsed["auth_mode"])
	}

	if parsed["git_backend"] != "execgit" {
		t.Fatalf("unexpected git_backend: %q", parsed["git_backend"])
	}
}

func TestAuthLoginRequiresTokenOffTerminal(t *testing.T) {
	neutralizeEnv(t)
	t.Setenv("CISYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "config.yaml"))

	_, err := runCommand(t, "auth", "login", "--host", "gitlab.example.com")
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error off-terminal, got: %v", err)
	}
}

func TestSyncWritesWorkingCopiesAndMarkers(t *testing.T) {
	neutralizeEnv(t)
	manifestPath, workspace := writeSyncFixture(t)

	output, err := runCommand(t, "sync", "--manifest", manifestPath, "--workspace", workspace, "--retry-count", "1", "--retry-delay", "0s")
	if err != nil {
		t.Fatalf("expected sync to succeed, got: %v\noutput: %s", err, output)
	}

	if !strings.Contains(output, "conf-a\tcloned (feature-a)") {
		t.Fatalf("expected cloned line for conf-a, got: %s", output)
	}

	if !strings.Contains(output, "conf-b\tfallback (master)") {
		t.Fatalf("expected fallback line for conf-b, got: %s", output)
	}

	if branch := testutil.CheckedOutBranch(t, filepath.Join(workspace, "conf-a")); branch != "feature-a" {
		t.Fatalf("expected conf-a on feature-a, got: %s", branch)
	}

	markers := fetch.NewMarkerStore(workspace)
	markerA, foundA, err := markers.Read("conf-a")
	if err != nil || !foundA || markerA.Branch != "feature-a" {
		t.Fatalf("expected feature-a marker for conf-a, got: %+v found=%t err=%v", markerA, foundA, err)
	}

	markerB, foundB, err := markers.Read("conf-b")
	if err != nil || !foundB || markerB.Branch != "master" {
		t.Fatalf("expected master marker for conf-b, got: %+v found=%t err=%v", markerB, foundB, err)
	}
}

func TestSyncJSON(t *testing.T) {
	neutralizeEnv(t)
	manifestPath, workspace := writeSyncFixture(t)

	output, err := runCommand(t, "--json", "sync", "--manifest", manifestPath, "--workspace", workspace, "--retry-count", "1", "--retry-delay", "0s")
	if err != nil {
		t.Fatalf("expected sync to succeed, got: %v\noutput: %s", err, output)
	}

	var results []fetch.Result
	if err := json.Unmarshal([]byte(output), &results); err != nil {
		t.Fatalf("expected valid json output, got: %s (%v)", output, err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if results[0].Outcome != fetch.OutcomeCloned || results[1].Outcome != fetch.OutcomeFallback {
		t.Fatalf("unexpected outcomes: %+v", results)
	}
}

func TestSyncUnknownManifestRepo(t *testing.T) {
	neutralizeEnv(t)
	manifestPath, workspace := writeSyncFixture(t)

	_, err := runCommand(t, "sync", "--manifest", manifestPath, "--workspace", workspace, "--repo", "nope")
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not_found error, got: %v", err)
	}
}

func TestTriggerSendsWebhookForm(t *testing.T) {
	neutralizeEnv(t)

	var seenRef, seenToken, seenVariable string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := request.ParseMultipartForm(1 << 20); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}

		seenRef = request.FormValue("ref")
		seenToken = request.FormValue("token")
		seenVariable = request.FormValue("variables[DELETE_WORKSPACE]")
		writer.WriteHeader(http.StatusCreated)
		_, _ = writer.Write([]byte(`{"id": 99, "web_url": "http://ci/pipelines/99"}`))
	}))
	defer server.Close()

	output, err := runCommand(t, "trigger", "--url", server.URL+"/hook", "--ref", "master", "--token", "trigger-secret", "--var", "DELETE_WORKSPACE=true")
	if err != nil {
		t.Fatalf("expected trigger to succeed, got: %v", err)
	}

	if seenRef != "master" || seenToken != "trigger-secret" || seenVariable != "true" {
		t.Fatalf("webhook form incomplete: ref=%q token=%q variable=%q", seenRef, seenToken, seenVariable)
	}

	if !strings.Contains(output, "Pipeline triggered (status=201)") {
		t.Fatalf("expected trigger output, got: %s", output)
	}

	if !strings.Contains(output, "Pipeline #99: http://ci/pipelines/99") {
		t.Fatalf("expected pipeline link in output, got: %s", output)
	}
}

func TestTriggerRejectsMalformedVariable(t *testing.T) {
	neutralizeEnv(t)

	_, err := runCommand(t, "trigger", "--url", "http://localhost:1/hook", "--ref", "master", "--token", "x", "--var", "NOVALUE")
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestStatusTable(t *testing.T) {
	neutralizeEnv(t)
	manifestPath, workspace := writeSyncFixture(t)

	output, err := runCommand(t, "status", "--manifest", manifestPath, "--workspace", workspace)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !strings.Contains(output, "REPOSITORY") || !strings.Contains(output, "conf-a") {
		t.Fatalf("expected status table, got: %s", output)
	}

	if !strings.Contains(output, "absent") {
		t.Fatalf("expected absent state before any sync, got: %s", output)
	}
}

func TestCacheClearRemovesCopyAndMarker(t *testing.T) {
	neutralizeEnv(t)
	workspace := t.TempDir()

	if err := os.MkdirAll(filepath.Join(workspace, "conf-a", ".git"), 0o755); err != nil {
		t.Fatalf("planting working copy failed: %v", err)
	}
	markers := fetch.NewMarkerStore(workspace)
	if err := markers.Write(fetch.Marker{RepoName: "conf-a", Branch: "master"}); err != nil {
		t.Fatalf("planting marker failed: %v", err)
	}

	output, err := runCommand(t, "cache", "clear", "conf-a", "--workspace", workspace)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !strings.Contains(output, "Removed conf-a") {
		t.Fatalf("expected removal output, got: %s", output)
	}

	if _, statErr := os.Stat(filepath.Join(workspace, "conf-a")); !os.IsNotExist(statErr) {
		t.Fatalf("expected working copy removed, stat err: %v", statErr)
	}

	if _, found, _ := markers.Read("conf-a"); found {
		t.Fatal("expected marker removed")
	}
}

func TestCacheClearRequiresNameOrAll(t *testing.T) {
	neutralizeEnv(t)

	_, err := runCommand(t, "cache", "clear", "--workspace", t.TempDir())
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestDoctorJSON(t *testing.T) {
	neutralizeEnv(t)
	manifestPath, workspace := writeSyncFixture(t)
	t.Setenv("CISYNC_MANIFEST", manifestPath)
	t.Setenv("CISYNC_WORKSPACE", workspace)

	output, err := runCommand(t, "--json", "doctor")
	if err != nil {
		t.Fatalf("expected all checks to pass, got: %v\noutput: %s", err, output)
	}

	var checks []doctorCheck
	if err := json.Unmarshal([]byte(output), &checks); err != nil {
		t.Fatalf("expected valid json output, got: %s (%v)", output, err)
	}

	if len(checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(checks))
	}

	for _, check := range checks {
		if !check.OK {
			t.Fatalf("expected check %s to pass: %s", check.Name, check.Detail)
		}
	}
}
