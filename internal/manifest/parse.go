package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"gopkg.in/yaml.v3"
)

// Load reads and validates a repos.yaml file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("manifest %s does not exist", path), err)
		}
		return nil, apperrors.New(apperrors.KindInternal, fmt.Sprintf("reading manifest %s failed", path), err)
	}

	return Parse(data)
}

// Parse validates repos.yaml content against the schema, then semantically.
func Parse(data []byte) (*Manifest, error) {
	if err := validateShape(data); err != nil {
		return nil, err
	}

	var parsed Manifest
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "manifest is not valid YAML", err)
	}

	if err := validate(&parsed); err != nil {
		return nil, err
	}

	return &parsed, nil
}

// Save validates and writes a manifest.
func Save(path string, parsed *Manifest) error {
	if err := validate(parsed); err != nil {
		return err
	}

	data, err := yaml.Marshal(parsed)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "marshaling manifest failed", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.New(apperrors.KindInternal, fmt.Sprintf("writing manifest %s failed", path), err)
	}

	return nil
}

// Validate checks a manifest for errors.
func Validate(parsed *Manifest) error { return validate(parsed) }

// validateShape runs the JSON-schema layer. The YAML document is normalized
// through encoding/json because the schema validator expects JSON-decoded
// values.
func validateShape(data []byte) error {
	var decoded any
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return apperrors.New(apperrors.KindValidation, "manifest is not valid YAML", err)
	}

	normalized, err := json.Marshal(decoded)
	if err != nil {
		return apperrors.New(apperrors.KindValidation, "manifest cannot be represented as JSON", err)
	}

	var value any
	if err := json.Unmarshal(normalized, &value); err != nil {
		return apperrors.New(apperrors.KindInternal, "normalizing manifest failed", err)
	}

	if err := manifestSchema.Validate(value); err != nil {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("manifest does not match schema: %v", err), err)
	}

	return nil
}

func validate(parsed *Manifest) error {
	if parsed.Version != 1 {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("unsupported manifest version: %d (expected 1)", parsed.Version), nil)
	}

	if len(parsed.Repos) == 0 {
		return apperrors.New(apperrors.KindValidation, "manifest: at least one repo is required", nil)
	}

	if parsed.Workspace != "" {
		if err := validatePath(parsed.Workspace, "workspace"); err != nil {
			return err
		}
	}

	if err := validateBranchName(parsed.Defaults.FallbackBranch, "defaults.fallback_branch"); err != nil {
		return err
	}

	seen := make(map[string]bool, len(parsed.Repos))
	for i, repo := range parsed.Repos {
		if err := validateRepo(i, repo, seen); err != nil {
			return err
		}
		seen[repo.Name] = true
	}

	return nil
}

func validateRepo(i int, repo Repo, seen map[string]bool) error {
	if repo.Name == "" {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("manifest: repos[%d].name is required", i), nil)
	}

	if !directorySafe(repo.Name) {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("manifest: repos[%d].name is not usable as a directory name: %q", i, repo.Name), nil)
	}

	if seen[repo.Name] {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("manifest: duplicate repo name %q", repo.Name), nil)
	}

	for _, check := range []struct {
		value string
		label string
	}{
		{repo.Branch, fmt.Sprintf("repos[%d] (%s).branch", i, repo.Name)},
		{repo.FallbackBranch, fmt.Sprintf("repos[%d] (%s).fallback_branch", i, repo.Name)},
	} {
		if err := validateBranchName(check.value, check.label); err != nil {
			return err
		}
	}

	return nil
}

// validateBranchName ensures a branch is a plain name (no origin/ or refs/
// prefix).
func validateBranchName(value string, label string) error {
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "origin/") || strings.HasPrefix(value, "refs/") {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("manifest: %s must be a branch name only (no origin/ or refs/ prefix): %s", label, value), nil)
	}

	return nil
}

// validatePath ensures a path is relative and does not escape the directory
// the manifest lives in.
func validatePath(path string, label string) error {
	if filepath.IsAbs(path) {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("manifest: %s: absolute path is not allowed: %s", label, path), nil)
	}

	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("manifest: %s: path must not escape the workspace root: %s", label, path), nil)
	}

	return nil
}

func directorySafe(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, "/\\")
}

// FilterByNames returns the repos matching the requested names, erroring on
// names the manifest does not contain.
func FilterByNames(repos []Repo, names []string) ([]Repo, error) {
	if len(names) == 0 {
		return repos, nil
	}

	byName := make(map[string]Repo, len(repos))
	for _, repo := range repos {
		byName[repo.Name] = repo
	}

	result := make([]Repo, 0, len(names))
	for _, name := range names {
		repo, ok := byName[name]
		if !ok {
			return nil, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("manifest has no repo named %q", name), nil)
		}
		result = append(result, repo)
	}

	return result, nil
}
