package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PolicyMode selects which floats a batch update considers due.
type PolicyMode string

const (
	PolicyAll   PolicyMode = "all"
	PolicyStale PolicyMode = "stale"
	PolicyIndex PolicyMode = "index"
)

type SyncPolicy struct {
	Mode       PolicyMode    `mapstructure:"mode"`
	StaleAfter time.Duration `mapstructure:"staleAfter"`
	// MaxFloats caps one batch; zero means no cap.
	MaxFloats int `mapstructure:"maxFloats"`
}

func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		Mode:       PolicyIndex,
		StaleAfter: 7 * 24 * time.Hour,
		MaxFloats:  0,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds SyncPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p SyncPolicy) *PolicyHolder {
	h := &PolicyHolder{}
	h.current.Store(p)
	return h
}

func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.sync_policy")

	v := viper.New()
	v.SetConfigName("sync_policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/atlas/config")
	v.AddConfigPath("/etc/atlas")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSyncPolicy()
	v.SetDefault("sync.mode", string(defaults.Mode))
	v.SetDefault("sync.staleAfter", defaults.StaleAfter)
	v.SetDefault("sync.maxFloats", defaults.MaxFloats)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePolicy(v)
			if err != nil {
				log.Warn("config.sync_policy.reload_rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("config.sync_policy.reloaded",
				zap.String("file", e.Name),
				zap.String("mode", string(updated.Mode)),
				zap.Duration("stale_after", updated.StaleAfter),
			)
		})
	}

	return holder, nil
}

func (h *PolicyHolder) Get() SyncPolicy {
	return h.current.Load().(SyncPolicy)
}

func decodePolicy(v *viper.Viper) (SyncPolicy, error) {
	var cfg SyncPolicy
	if err := v.UnmarshalKey("sync", &cfg); err != nil {
		return SyncPolicy{}, err
	}
	cfg.Mode = PolicyMode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if err := validatePolicy(cfg); err != nil {
		return SyncPolicy{}, err
	}
	return cfg, nil
}

func validatePolicy(cfg SyncPolicy) error {
	switch cfg.Mode {
	case PolicyAll, PolicyStale, PolicyIndex:
	default:
		return fmt.Errorf("sync.mode %q must be all, stale or index", cfg.Mode)
	}
	if cfg.StaleAfter <= 0 && cfg.Mode != PolicyAll {
		return errors.New("sync.staleAfter must be positive")
	}
	if cfg.MaxFloats < 0 {
		return errors.New("sync.maxFloats cannot be negative")
	}
	return nil
}
