package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/Gobusters/ectologger"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JiscPER/jper-sub000/pkg/routing"
)

var validate = validator.New()

// RoutingPolicyHolder serves the routing policy read from a yaml file and swaps it in
// place whenever the file changes. An invalid edit is logged and ignored.
type RoutingPolicyHolder struct {
	current atomic.Value // holds routing.Policy
	v       *viper.Viper
	logger  ectologger.Logger
}

// NewRoutingPolicyHolder loads the policy at path and watches it for changes. A missing
// file yields the default policy and is not watched.
func NewRoutingPolicyHolder(path string, logger ectologger.Logger) (*RoutingPolicyHolder, error) {
	return newRoutingPolicyHolder(path, logger, true)
}

func newRoutingPolicyHolder(path string, logger ectologger.Logger, watch bool) (*RoutingPolicyHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
	if filepath.Ext(path) == "" {
		v.SetConfigType("yml")
	}

	holder := &RoutingPolicyHolder{v: v, logger: logger}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading routing policy: %w", err)
		}
		logger.Warnf("Routing policy %s not found, using defaults", path)
		holder.current.Store(routing.DefaultPolicy())
		return holder, nil
	}

	policy, err := holder.decode()
	if err != nil {
		return nil, err
	}
	holder.current.Store(policy)

	if watch {
		// viper has already re-read the file when the callback runs
		v.OnConfigChange(func(e fsnotify.Event) {
			holder.apply(e.Name)
		})
		v.WatchConfig()
	}

	return holder, nil
}

// Policy returns the current routing policy
func (h *RoutingPolicyHolder) Policy() routing.Policy {
	return h.current.Load().(routing.Policy)
}

// Reload re-reads the policy file and stores it if it is valid. It reports whether
// the policy was replaced. It must not be used on a holder that is watching its file.
func (h *RoutingPolicyHolder) Reload(source string) bool {
	if err := h.v.ReadInConfig(); err != nil {
		h.logger.WithError(err).WithFields(map[string]any{"source": source}).Error("Routing policy reload failed")
		return false
	}
	return h.apply(source)
}

func (h *RoutingPolicyHolder) apply(source string) bool {
	log := h.logger.WithFields(map[string]any{"source": source})

	policy, err := h.decode()
	if err != nil {
		log.WithError(err).Error("Invalid routing policy ignored")
		return false
	}

	h.current.Store(policy)
	log.Info("Routing policy reloaded")
	return true
}

// decode unmarshals the file over the default policy so omitted keys keep their defaults
func (h *RoutingPolicyHolder) decode() (routing.Policy, error) {
	policy := routing.DefaultPolicy()
	if err := h.v.Unmarshal(&policy); err != nil {
		return routing.Policy{}, fmt.Errorf("decoding routing policy: %w", err)
	}
	if err := ValidatePolicy(policy); err != nil {
		return routing.Policy{}, err
	}
	return policy, nil
}

// ValidatePolicy checks the bounds of a routing policy
func ValidatePolicy(p routing.Policy) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid routing policy: %w", err)
	}
	for provider, entries := range p.GoldAllowLists {
		for _, entry := range entries {
			if strings.TrimSpace(entry) == "" {
				return fmt.Errorf("invalid routing policy: empty gold allow-list entry for provider %q", provider)
			}
		}
	}
	for _, format := range p.RepackageFormats {
		if strings.TrimSpace(format) == "" {
			return errors.New("invalid routing policy: empty repackage format")
		}
	}
	return nil
}

// CheckPolicyFile strictly decodes a yaml policy file. Unlike the watcher it rejects
// unknown keys, so a misspelt setting is reported instead of silently defaulted.
func CheckPolicyFile(path string) (routing.Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return routing.Policy{}, err
	}
	defer f.Close()

	policy := routing.DefaultPolicy()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
		return routing.Policy{}, fmt.Errorf("decoding routing policy: %w", err)
	}
	if err := ValidatePolicy(policy); err != nil {
		return routing.Policy{}, err
	}
	return policy, nil
}
