package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	BackendExecGit = "execgit"
	BackendGoGit   = "gogit"

	defaultFallbackBranch = "master"
	defaultRetryCount     = 3
	defaultRetryDelay     = 10 * time.Second
	defaultWorkspace      = ".cisync-workspace"
	defaultManifestPath   = "repos.yaml"
	keyringServiceName    = "cisync"
)

type AppConfig struct {
	HostURL        string
	Username       string
	Token          string
	TriggerToken   string
	Branch         string
	FallbackBranch string
	Workspace      string
	RetryCount     int
	RetryDelay     time.Duration
	GitBackend     string
	ManifestPath   string
	AuthSource     string
}

type StoredConfig struct {
	DefaultHost     string                   `yaml:"default_host,omitempty"`
	Hosts           map[string]StoredProfile `yaml:"hosts,omitempty"`
	InsecureSecrets map[string]StoredSecret  `yaml:"insecure_secrets,omitempty"`
}

type StoredProfile struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
}

type StoredSecret struct {
	Token        string `yaml:"token,omitempty"`
	TriggerToken string `yaml:"trigger_token,omitempty"`
}

type LoginInput struct {
	Host         string
	Username     string
	Token        string
	TriggerToken string
	SetDefault   bool
}

type LoginResult struct {
	Host                string
	Username            string
	UsedInsecureStorage bool
}

func LoadFromEnv() (AppConfig, error) {
	_ = godotenv.Load(".env")
	storedConfig, _ := LoadStoredConfig()

	envHost := strings.TrimSpace(os.Getenv("CISYNC_HOST"))
	resolvedURL := ""
	if envHost != "" {
		resolvedURL = normalizeURL(envHost)
	} else if storedConfig.DefaultHost != "" {
		if profile, ok := storedConfig.Hosts[storedConfig.DefaultHost]; ok {
			resolvedURL = normalizeURL(profile.URL)
		}
	}

	retryCount := defaultRetryCount
	if raw := strings.TrimSpace(os.Getenv("CISYNC_RETRY_COUNT")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return AppConfig{}, apperrors.New(apperrors.KindValidation, fmt.Sprintf("CISYNC_RETRY_COUNT is not a number: %q", raw), err)
		}
		retryCount = parsed
	}

	retryDelay := defaultRetryDelay
	if raw := strings.TrimSpace(os.Getenv("CISYNC_RETRY_DELAY")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return AppConfig{}, apperrors.New(apperrors.KindValidation, fmt.Sprintf("CISYNC_RETRY_DELAY is not a duration: %q", raw), err)
		}
		retryDelay = parsed
	}

	config := AppConfig{
		HostURL:        resolvedURL,
		Username:       envOrDefault("CISYNC_USERNAME", envOrDefault("GITLAB_USER_LOGIN", "")),
		Token:          envOrDefault("CISYNC_TOKEN", envOrDefault("GITLAB_TOKEN", "")),
		TriggerToken:   envOrDefault("CISYNC_TRIGGER_TOKEN", ""),
		Branch:         envOrDefault("CISYNC_BRANCH", envOrDefault("CI_COMMIT_BRANCH", envOrDefault("CI_COMMIT_REF_NAME", ""))),
		FallbackBranch: envOrDefault("CISYNC_FALLBACK_BRANCH", defaultFallbackBranch),
		Workspace:      envOrDefault("CISYNC_WORKSPACE", defaultWorkspace),
		RetryCount:     retryCount,
		RetryDelay:     retryDelay,
		GitBackend:     envOrDefault("CISYNC_GIT_BACKEND", BackendExecGit),
		ManifestPath:   envOrDefault("CISYNC_MANIFEST", defaultManifestPath),
		AuthSource:     "env/default",
	}

	if os.Getenv("CISYNC_DISABLE_STORED_CONFIG") != "1" {
		stored, foundStored := resolveStoredCredentials(storedConfig, config.HostURL)
		if foundStored {
			if config.HostURL == "" && stored.HostURL != "" {
				config.HostURL = stored.HostURL
			}
			if config.Username == "" && stored.Username != "" {
				config.Username = stored.Username
			}
			if config.Token == "" && stored.Token != "" {
				config.Token = stored.Token
			}
			if config.TriggerToken == "" && stored.TriggerToken != "" {
				config.TriggerToken = stored.TriggerToken
			}
			if config.Token != "" {
				config.AuthSource = "stored"
			}
		}

		if os.Getenv("CISYNC_TOKEN") != "" || os.Getenv("GITLAB_TOKEN") != "" || os.Getenv("CISYNC_USERNAME") != "" || os.Getenv("GITLAB_USER_LOGIN") != "" {
			config.AuthSource = "env"
		}
	}

	if err := config.Validate(); err != nil {
		return AppConfig{}, err
	}

	return config, nil
}

func SaveLogin(input LoginInput) (LoginResult, error) {
	host := normalizeURL(strings.TrimSpace(input.Host))
	if host == "" {
		return LoginResult{}, apperrors.New(apperrors.KindValidation, "host is required", nil)
	}

	token := strings.TrimSpace(input.Token)
	triggerToken := strings.TrimSpace(input.TriggerToken)
	if token == "" && triggerToken == "" {
		return LoginResult{}, apperrors.New(apperrors.KindValidation, "provide a token, a trigger token, or both", nil)
	}

	stored, _ := LoadStoredConfig()
	if stored.Hosts == nil {
		stored.Hosts = map[string]StoredProfile{}
	}
	if stored.InsecureSecrets == nil {
		stored.InsecureSecrets = map[string]StoredSecret{}
	}

	profile := StoredProfile{URL: host, Username: strings.TrimSpace(input.Username)}
	result := LoginResult{Host: host, Username: profile.Username}

	key := hostKey(host)
	insecure := StoredSecret{}
	if token != "" {
		if err := keyring.Set(keyringServiceName, key+":token", token); err != nil {
			insecure.Token = token
			result.UsedInsecureStorage = true
		}
	} else {
		_ = keyring.Delete(keyringServiceName, key+":token")
	}
	if triggerToken != "" {
		if err := keyring.Set(keyringServiceName, key+":trigger", triggerToken); err != nil {
			insecure.TriggerToken = triggerToken
			result.UsedInsecureStorage = true
		}
	} else {
		_ = keyring.Delete(keyringServiceName, key+":trigger")
	}

	if insecure.Token != "" || insecure.TriggerToken != "" {
		stored.InsecureSecrets[key] = insecure
	} else {
		delete(stored.InsecureSecrets, key)
	}

	stored.Hosts[key] = profile
	if input.SetDefault || stored.DefaultHost == "" {
		stored.DefaultHost = key
	}

	if err := SaveStoredConfig(stored); err != nil {
		return LoginResult{}, err
	}

	return result, nil
}

func Logout(host string) error {
	stored, _ := LoadStoredConfig()
	hostURL := normalizeURL(strings.TrimSpace(host))
	if hostURL == "" {
		if stored.DefaultHost == "" {
			return apperrors.New(apperrors.KindNotFound, "no stored host to logout", nil)
		}
		hostURL = stored.DefaultHost
	}

	key := hostKey(hostURL)
	_ = keyring.Delete(keyringServiceName, key+":token")
	_ = keyring.Delete(keyringServiceName, key+":trigger")

	delete(stored.Hosts, key)
	delete(stored.InsecureSecrets, key)
	if stored.DefaultHost == key {
		stored.DefaultHost = ""
		for next := range stored.Hosts {
			stored.DefaultHost = next
			break
		}
	}

	return SaveStoredConfig(stored)
}

func LoadStoredConfig() (StoredConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return StoredConfig{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StoredConfig{Hosts: map[string]StoredProfile{}, InsecureSecrets: map[string]StoredSecret{}}, nil
		}
		return StoredConfig{}, err
	}

	var stored StoredConfig
	if err := yaml.Unmarshal(raw, &stored); err != nil {
		return StoredConfig{}, err
	}
	if stored.Hosts == nil {
		stored.Hosts = map[string]StoredProfile{}
	}
	if stored.InsecureSecrets == nil {
		stored.InsecureSecrets = map[string]StoredSecret{}
	}

	return stored, nil
}

func SaveStoredConfig(stored StoredConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	encoded, err := yaml.Marshal(stored)
	if err != nil {
		return err
	}

	return os.WriteFile(path, encoded, 0o600)
}

func ConfigPath() (string, error) {
	if custom := strings.TrimSpace(os.Getenv("CISYNC_CONFIG_PATH")); custom != "" {
		return custom, nil
	}

	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(baseDir, "cisync", "config.yaml"), nil
}

func resolveStoredCredentials(stored StoredConfig, runtimeURL string) (AppConfig, bool) {
	if len(stored.Hosts) == 0 {
		return AppConfig{}, false
	}

	key := hostKey(runtimeURL)
	profile, ok := stored.Hosts[key]
	if !ok {
		if stored.DefaultHost == "" {
			return AppConfig{}, false
		}
		profile, ok = stored.Hosts[stored.DefaultHost]
		if !ok {
			return AppConfig{}, false
		}
		key = stored.DefaultHost
	}

	resolved := AppConfig{HostURL: normalizeURL(profile.URL), Username: profile.Username}

	if token, err := keyring.Get(keyringServiceName, key+":token"); err == nil && strings.TrimSpace(token) != "" {
		resolved.Token = token
	}
	if triggerToken, err := keyring.Get(keyringServiceName, key+":trigger"); err == nil && strings.TrimSpace(triggerToken) != "" {
		resolved.TriggerToken = triggerToken
	}

	if resolved.Token == "" || resolved.TriggerToken == "" {
		if insecure, ok := stored.InsecureSecrets[key]; ok {
			if resolved.Token == "" {
				resolved.Token = insecure.Token
			}
			if resolved.TriggerToken == "" {
				resolved.TriggerToken = insecure.TriggerToken
			}
		}
	}

	return resolved, true
}

func (config AppConfig) Validate() error {
	if config.HostURL != "" {
		parsedURL, err := url.Parse(config.HostURL)
		if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			return apperrors.New(
				apperrors.KindValidation,
				fmt.Sprintf("CISYNC_HOST is invalid: %q", config.HostURL),
				err,
			)
		}
	}

	if strings.TrimSpace(config.FallbackBranch) == "" {
		return apperrors.New(apperrors.KindValidation, "CISYNC_FALLBACK_BRANCH cannot be empty", nil)
	}

	if config.RetryCount < 1 {
		return apperrors.New(apperrors.KindValidation, "CISYNC_RETRY_COUNT must be at least 1", nil)
	}

	if config.RetryDelay < 0 {
		return apperrors.New(apperrors.KindValidation, "CISYNC_RETRY_DELAY cannot be negative", nil)
	}

	if config.GitBackend != BackendExecGit && config.GitBackend != BackendGoGit {
		return apperrors.New(
			apperrors.KindValidation,
			fmt.Sprintf("CISYNC_GIT_BACKEND must be %q or %q, got %q", BackendExecGit, BackendGoGit, config.GitBackend),
			nil,
		)
	}

	return nil
}

func (config AppConfig) AuthMode() string {
	if config.Token != "" {
		return "token"
	}

	return "none"
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}

	return value
}

func normalizeURL(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}

	if strings.Contains(trimmed, "://") {
		return trimmed
	}

	return "https://" + trimmed
}

func hostKey(hostURL string) string {
	parsed, err := url.Parse(normalizeURL(hostURL))
	if err != nil {
		return normalizeURL(hostURL)
	}

	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}
