package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// (e.g. --upstream on both "trickle serve" and "trickleprox") cannot drift.
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag. Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "proxy.upstream").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of registry keys to Flag definitions.
type FlagSet map[string]Flag

// Flag registry keys.
const (
	FlagListen    = "listen"
	FlagUpstream  = "upstream"
	FlagModel     = "model"
	FlagAPIKeyEnv = "api-key-env"
	FlagRelay     = "relay"
	FlagJournal   = "journal"
	FlagRateLimit = "rate-limit"
	FlagChatURL   = "chat-url"
	FlagTimeout   = "timeout"
)

// Flags is the registry shared by every trickle command.
var Flags = FlagSet{
	FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "proxy.listen",
		Description: "Address for the relay proxy to listen on",
	},
	FlagUpstream: {
		Name:        "upstream",
		ViperKey:    "proxy.upstream",
		Description: "Base URL of the OpenAI-compatible upstream API",
	},
	FlagModel: {
		Name:        "model",
		Shorthand:   "m",
		ViperKey:    "proxy.model",
		Description: "Model requested from the upstream",
	},
	FlagAPIKeyEnv: {
		Name:        "api-key-env",
		ViperKey:    "proxy.api_key_env",
		Description: "Environment variable holding the upstream API key",
	},
	FlagRelay: {
		Name:        "relay",
		ViperKey:    "proxy.relay",
		Description: "Relay mode: \"text\" re-frames content deltas, \"raw\" forwards upstream events",
	},
	FlagJournal: {
		Name:        "journal",
		ViperKey:    "proxy.journal",
		Description: "JSONL file to append finished relays to (empty disables)",
	},
	FlagRateLimit: {
		Name:        "rate-limit",
		ViperKey:    "proxy.rate_limit",
		Description: "Maximum relayed requests per second (0 disables)",
	},
	FlagChatURL: {
		Name:        "chat-url",
		Shorthand:   "u",
		ViperKey:    "client.chat_url",
		Description: "Chat endpoint to stream answers from",
	},
	FlagTimeout: {
		Name:        "timeout",
		ViperKey:    "client.timeout",
		Description: "Maximum time to wait for one answer",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultViper().GetString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddDurationFlag registers a duration flag on cmd from the given FlagSet.
func AddDurationFlag(cmd *cobra.Command, fs FlagSet, key string, target *time.Duration) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultViper().GetDuration(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().DurationVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().DurationVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddFloat64Flag registers a float64 flag on cmd from the given FlagSet.
func AddFloat64Flag(cmd *cobra.Command, fs FlagSet, key string, target *float64) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultViper().GetFloat64(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().Float64VarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().Float64Var(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

func defaultViper() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}
