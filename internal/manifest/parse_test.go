package manifest

import (
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/pipetools/cisync/internal/domain/errors"
)

func TestParseValidManifest(t *testing.T) {
	data := []byte(`
version: 1
workspace: .cisync-workspace
defaults:
  host: gitlab.example.com
  namespace: xsoar
  fallback_branch: master
  retry_count: 3
  retry_delay_seconds: 10
repos:
  - name: content-test-conf
  - name: infra
    namespace: ops
    branch: stable
    retry_count: 5
`)

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if len(parsed.Repos) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(parsed.Repos))
	}

	first := parsed.Repos[0]
	if first.EffectiveNamespace(parsed.Defaults) != "xsoar" {
		t.Fatalf("expected defaults namespace, got %q", first.EffectiveNamespace(parsed.Defaults))
	}
	if first.EffectiveFallbackBranch(parsed.Defaults) != "master" {
		t.Fatalf("expected defaults fallback branch, got %q", first.EffectiveFallbackBranch(parsed.Defaults))
	}
	if count := first.EffectiveRetryCount(parsed.Defaults); count == nil || *count != 3 {
		t.Fatal("expected defaults retry count 3")
	}

	second := parsed.Repos[1]
	if second.EffectiveNamespace(parsed.Defaults) != "ops" {
		t.Fatalf("expected repo namespace override, got %q", second.EffectiveNamespace(parsed.Defaults))
	}
	if count := second.EffectiveRetryCount(parsed.Defaults); count == nil || *count != 5 {
		t.Fatal("expected repo retry count override 5")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	data := []byte(`
version: 1
repos:
  - name: infra
    url: https://gitlab.example.com/ops/infra.git
`)

	_, err := Parse(data)
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected schema validation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "schema") {
		t.Fatalf("expected schema failure detail, got: %v", err)
	}
}

func TestParseRejectsMissingVersion(t *testing.T) {
	data := []byte(`
repos:
  - name: infra
`)

	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestParseRejectsEmptyRepos(t *testing.T) {
	data := []byte(`
version: 1
repos: []
`)

	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for empty repos")
	}
}

func TestParseRejectsDuplicateNames(t *testing.T) {
	data := []byte(`
version: 1
repos:
  - name: infra
  - name: infra
`)

	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected error for duplicate repo name")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate detail, got: %v", err)
	}
}

func TestParseRejectsUnsafeNames(t *testing.T) {
	data := []byte(`
version: 1
repos:
  - name: ../escape
`)

	if _, err := Parse(data); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestParseRejectsPrefixedBranchNames(t *testing.T) {
	data := []byte(`
version: 1
repos:
  - name: infra
    branch: origin/master
`)

	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected error for origin/ prefixed branch")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.yaml")
	retries := 2

	original := &Manifest{
		Version:   1,
		Workspace: "cache",
		Defaults:  Defaults{Namespace: "xsoar", FallbackBranch: "master"},
		Repos: []Repo{
			{Name: "content-test-conf"},
			{Name: "infra", RetryCount: &retries},
		},
	}

	if err := Save(path, original); err != nil {
		t.Fatalf("expected save to succeed, got: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got: %v", err)
	}

	if len(loaded.Repos) != 2 || loaded.Repos[1].Name != "infra" {
		t.Fatalf("unexpected round-trip result: %+v", loaded)
	}

	if loaded.Repos[1].RetryCount == nil || *loaded.Repos[1].RetryCount != 2 {
		t.Fatal("expected retry count to survive the round trip")
	}
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "repos.yaml"))
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not_found, got: %v", err)
	}
}

func TestFilterByNames(t *testing.T) {
	repos := []Repo{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	subset, err := FilterByNames(repos, []string{"c", "a"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(subset) != 2 || subset[0].Name != "c" || subset[1].Name != "a" {
		t.Fatalf("unexpected subset: %+v", subset)
	}

	if _, err := FilterByNames(repos, []string{"missing"}); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not_found for unknown name, got: %v", err)
	}

	all, err := FilterByNames(repos, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected passthrough without names, got: %v %v", all, err)
	}
}
