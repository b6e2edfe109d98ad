package relay

import (
	"github.com/argus-labs/beacon/pkg/protocol"
	"github.com/argus-labs/beacon/pkg/telemetry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// DefaultQueue is the queue group shared by relay instances.
const DefaultQueue = "beacon-relay"

// relayConfig holds the relay configuration read from environment variables.
type relayConfig struct {
	// First tokens of every subject. Must match the devices.
	SubjectPrefix string `env:"BEACON_SUBJECT_PREFIX" envDefault:"beacon"`

	// Queue group name. Relays in the same group split the traffic.
	Queue string `env:"RELAY_QUEUE" envDefault:"beacon-relay"`
}

func loadRelayConfig() (relayConfig, error) {
	cfg := relayConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse relay config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

func (cfg *relayConfig) validate() error {
	if cfg.Queue == "" {
		return eris.New("queue cannot be empty")
	}
	return nil
}

func (cfg *relayConfig) applyToOptions(opt *Options) {
	opt.SubjectPrefix = cfg.SubjectPrefix
	opt.Queue = cfg.Queue
}

// Options configure a Relay. Non-zero fields override the environment.
type Options struct {
	SubjectPrefix string
	Queue         string

	// Transport carries protocol messages. Required.
	Transport Transport
	// Telemetry for logs and spans. Defaults to a no-op.
	Telemetry *telemetry.Telemetry
}

func newDefaultOptions() Options {
	return Options{
		SubjectPrefix: protocol.DefaultPrefix,
		Queue:         DefaultQueue,
	}
}

func (opt *Options) apply(newOpt Options) {
	if newOpt.SubjectPrefix != "" {
		opt.SubjectPrefix = newOpt.SubjectPrefix
	}
	if newOpt.Queue != "" {
		opt.Queue = newOpt.Queue
	}
	if newOpt.Transport != nil {
		opt.Transport = newOpt.Transport
	}
	if newOpt.Telemetry != nil {
		opt.Telemetry = newOpt.Telemetry
	}
}

func (opt *Options) validate() error {
	if opt.Queue == "" {
		return eris.New("queue cannot be empty")
	}
	if opt.Transport == nil {
		return eris.New("transport cannot be nil")
	}
	return nil
}
