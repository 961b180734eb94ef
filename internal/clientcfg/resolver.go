// Package clientcfg resolves the assistant endpoint, assistant ID and API
// key a chat client should use.
package clientcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/agentdesk/internal/domain"
)

// Storage keys.
const (
	KeyAPIURL      = "apiUrl"
	KeyAssistantID = "assistantId"
	KeyAPIKey      = "lg:chat:apiKey"

	userKeyPrefix = "user_config_"
)

// ErrConfigurationRequired means the caller must choose a configuration
// explicitly before chatting.
var ErrConfigurationRequired = errors.New("configuration required")

// Config is a resolved client configuration.
type Config struct {
	APIURL      string `json:"apiUrl"`
	AssistantID string `json:"assistantId"`
	APIKey      string `json:"-"`
}

// URLState is the transient, shareable part of the configuration. It only
// ever carries KeyAPIURL and KeyAssistantID.
type URLState map[string]string

// Empty reports whether neither shareable field is set.
func (u URLState) Empty() bool {
	return strings.TrimSpace(u[KeyAPIURL]) == "" && strings.TrimSpace(u[KeyAssistantID]) == ""
}

func (u URLState) clone() URLState {
	out := make(URLState, 2)
	for _, k := range []string{KeyAPIURL, KeyAssistantID} {
		if v := strings.TrimSpace(u[k]); v != "" {
			out[k] = v
		}
	}
	return out
}

// Result is the outcome of one resolution.
type Result struct {
	Config Config
	// URL is the URL state after backfilling. It never holds the API key.
	URL URLState
}

// UserKey returns the storage key of a user's saved configuration.
func UserKey(userID string) string {
	return userKeyPrefix + userID
}

// Resolver applies the URL → storage → default cascade.
type Resolver struct {
	storage  Storage
	defaults Config
}

// NewResolver creates a resolver backed by storage.
func NewResolver(storage Storage, defaults Config) *Resolver {
	return &Resolver{storage: storage, defaults: defaults}
}

// Resolve computes the configuration for user given the current URL state.
// Storage is written only when a stored value changes, so resolving again
// with the same inputs is free of writes.
func (r *Resolver) Resolve(url URLState, user *domain.User) (Result, error) {
	state := url.clone()

	if user != nil && state.Empty() {
		if user.IsAdmin() {
			return Result{}, ErrConfigurationRequired
		}
		saved, ok, err := r.userConfig(user.ID)
		if err != nil {
			return Result{}, err
		}
		if ok {
			state[KeyAPIURL] = saved.APIURL
			state[KeyAssistantID] = saved.AssistantID
			return r.resolve(state)
		}
		res, err := r.resolve(state)
		if err != nil {
			return Result{}, err
		}
		if err := r.saveUserConfig(user.ID, res.Config); err != nil {
			return Result{}, err
		}
		return res, nil
	}
	return r.resolve(state)
}

func (r *Resolver) resolve(state URLState) (Result, error) {
	apiURL, err := r.field(state, KeyAPIURL, r.defaults.APIURL)
	if err != nil {
		return Result{}, err
	}
	assistantID, err := r.field(state, KeyAssistantID, r.defaults.AssistantID)
	if err != nil {
		return Result{}, err
	}
	apiKey, err := r.apiKey()
	if err != nil {
		return Result{}, err
	}
	return Result{
		Config: Config{APIURL: apiURL, AssistantID: assistantID, APIKey: apiKey},
		URL:    state,
	}, nil
}

// field resolves one shareable field and backfills state with the result.
func (r *Resolver) field(state URLState, key, def string) (string, error) {
	if v := state[key]; v != "" {
		return v, nil
	}
	stored, ok, err := r.storage.Get(key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if ok && stored != "" {
		state[key] = stored
		return stored, nil
	}
	if def == "" {
		return "", nil
	}
	if err := r.setIfChanged(key, def); err != nil {
		return "", err
	}
	state[key] = def
	return def, nil
}

func (r *Resolver) apiKey() (string, error) {
	stored, ok, err := r.storage.Get(KeyAPIKey)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	if ok && stored != "" {
		return stored, nil
	}
	if r.defaults.APIKey == "" {
		return "", nil
	}
	if err := r.setIfChanged(KeyAPIKey, r.defaults.APIKey); err != nil {
		return "", err
	}
	return r.defaults.APIKey, nil
}

func (r *Resolver) setIfChanged(key, value string) error {
	current, ok, err := r.storage.Get(key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if ok && current == value {
		return nil
	}
	if err := r.storage.Set(key, value); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (r *Resolver) userConfig(userID string) (Config, bool, error) {
	raw, ok, err := r.storage.Get(UserKey(userID))
	if err != nil {
		return Config{}, false, fmt.Errorf("read user config: %w", err)
	}
	if !ok || raw == "" {
		return Config{}, false, nil
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil || cfg.APIURL == "" || cfg.AssistantID == "" {
		slog.Warn("ignoring unreadable saved user config", "user_id", userID, "error", err)
		return Config{}, false, nil
	}
	return cfg, true, nil
}

func (r *Resolver) saveUserConfig(userID string, cfg Config) error {
	if cfg.APIURL == "" || cfg.AssistantID == "" {
		return nil
	}
	data, err := json.Marshal(Config{APIURL: cfg.APIURL, AssistantID: cfg.AssistantID})
	if err != nil {
		return fmt.Errorf("encode user config: %w", err)
	}
	return r.setIfChanged(UserKey(userID), string(data))
}

// SetConfig stores every non-empty field of cfg.
func SetConfig(storage Storage, cfg Config) error {
	for _, kv := range [][2]string{
		{KeyAPIURL, cfg.APIURL},
		{KeyAssistantID, cfg.AssistantID},
		{KeyAPIKey, cfg.APIKey},
	} {
		if strings.TrimSpace(kv[1]) == "" {
			continue
		}
		if err := storage.Set(kv[0], strings.TrimSpace(kv[1])); err != nil {
			return fmt.Errorf("write %s: %w", kv[0], err)
		}
	}
	return nil
}

// Current returns the stored configuration with defaults filling gaps,
// without writing anything.
func Current(storage Storage, defaults Config) (Config, error) {
	get := func(key, def string) (string, error) {
		v, ok, err := storage.Get(key)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		if ok && v != "" {
			return v, nil
		}
		return def, nil
	}
	var cfg Config
	var err error
	if cfg.APIURL, err = get(KeyAPIURL, defaults.APIURL); err != nil {
		return Config{}, err
	}
	if cfg.AssistantID, err = get(KeyAssistantID, defaults.AssistantID); err != nil {
		return Config{}, err
	}
	if cfg.APIKey, err = get(KeyAPIKey, defaults.APIKey); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate lists the storage keys of required fields that are still empty.
func Validate(cfg Config) []string {
	var missing []string
	if cfg.APIURL == "" {
		missing = append(missing, KeyAPIURL)
	}
	if cfg.AssistantID == "" {
		missing = append(missing, KeyAssistantID)
	}
	return missing
}
