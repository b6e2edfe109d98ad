package beacon

import (
	"time"

	"github.com/argus-labs/beacon/pkg/combat"
	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/protocol"
	"github.com/argus-labs/beacon/pkg/telemetry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// deviceConfig holds the device configuration read from environment variables.
type deviceConfig struct {
	// Unique id of this device, used in subjects. Generated when empty.
	DeviceID string `env:"BEACON_DEVICE_ID"`

	// Name shown to other players.
	DeviceName string `env:"BEACON_DEVICE_NAME"`

	// Ledger record holding the character.
	RecordID string `env:"BEACON_RECORD_ID" envDefault:"character"`

	// Ledger record holding the shop prices.
	ShopID string `env:"BEACON_SHOP_ID" envDefault:"shop"`

	// First tokens of every subject.
	SubjectPrefix string `env:"BEACON_SUBJECT_PREFIX" envDefault:"beacon"`

	// How long a battle request waits for an answer. Zero waits forever.
	RequestTimeout time.Duration `env:"BEACON_REQUEST_TIMEOUT" envDefault:"0s"`

	// Receive battle requests through a durable JetStream consumer.
	ReliableRequests bool `env:"BEACON_RELIABLE_REQUESTS" envDefault:"true"`

	// Number of message ids remembered to drop redeliveries.
	DedupWindow int `env:"BEACON_DEDUP_WINDOW" envDefault:"256"`

	// Capacity of the device event queue.
	QueueSize int `env:"BEACON_QUEUE_SIZE" envDefault:"64"`
}

func loadDeviceConfig() (deviceConfig, error) {
	cfg := deviceConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse device config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

func (cfg *deviceConfig) validate() error {
	if cfg.DeviceID != "" {
		if err := protocol.ValidateDeviceID(cfg.DeviceID); err != nil {
			return eris.Wrap(err, "invalid device id")
		}
	}
	if cfg.RequestTimeout < 0 {
		return eris.New("request timeout cannot be negative")
	}
	if cfg.DedupWindow <= 0 {
		return eris.New("dedup window must be positive")
	}
	if cfg.QueueSize <= 0 {
		return eris.New("queue size must be positive")
	}
	return nil
}

func (cfg *deviceConfig) applyToOptions(opt *DeviceOptions) {
	opt.DeviceID = cfg.DeviceID
	opt.DeviceName = cfg.DeviceName
	opt.RecordID = cfg.RecordID
	opt.ShopID = cfg.ShopID
	opt.SubjectPrefix = cfg.SubjectPrefix
	opt.RequestTimeout = cfg.RequestTimeout
	opt.RequestDelivery = DeliveryCore
	if cfg.ReliableRequests {
		opt.RequestDelivery = DeliveryReliable
	}
	opt.DedupWindow = cfg.DedupWindow
	opt.QueueSize = cfg.QueueSize
}

// Delivery selects how inbound battle requests are consumed.
type Delivery uint8

const (
	DeliveryUndefined Delivery = iota
	// DeliveryCore uses a plain subscription: requests sent while the device is offline are lost.
	DeliveryCore
	// DeliveryReliable uses a durable JetStream consumer: requests are redelivered until handled.
	DeliveryReliable
)

func (d Delivery) String() string {
	switch d {
	case DeliveryCore:
		return "core"
	case DeliveryReliable:
		return "reliable"
	case DeliveryUndefined:
		return "undefined"
	default:
		return "undefined"
	}
}

// DeviceOptions configure a Device. Non-zero fields override the environment.
type DeviceOptions struct {
	DeviceID        string
	DeviceName      string
	RecordID        string
	ShopID          string
	SubjectPrefix   string
	RequestTimeout  time.Duration
	RequestDelivery Delivery
	DedupWindow     int
	QueueSize       int

	// Transport carries protocol messages. Required.
	Transport Transport
	// Store backs the ledger. Defaults to an in-memory store.
	Store ledger.Store
	// Catalog is the shop's item table. Defaults to combat.DefaultCatalog.
	Catalog *combat.Catalog
	// Rules are the battle constants. Defaults to combat.DefaultRules.
	Rules *combat.Rules
	// Character is written on first start when the ledger has no character yet. Defaults to
	// ledger.DefaultCharacter.
	Character *ledger.Character
	// Telemetry for logs and spans. Defaults to a no-op.
	Telemetry *telemetry.Telemetry
	// Service, when set, answers presence requests for the device. Its prefix must be the subject
	// prefix.
	Service *micro.Service
}

func newDefaultDeviceOptions() DeviceOptions {
	// Transport is left unset so that a missing one is caught by validate.
	catalog := combat.DefaultCatalog()
	rules := combat.DefaultRules()
	character := ledger.DefaultCharacter()
	return DeviceOptions{
		RecordID:        "character",
		ShopID:          "shop",
		SubjectPrefix:   protocol.DefaultPrefix,
		RequestTimeout:  0,
		RequestDelivery: DeliveryReliable,
		DedupWindow:     protocol.DefaultDedupWindow,
		QueueSize:       64,
		Catalog:         &catalog,
		Rules:           &rules,
		Character:       &character,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *DeviceOptions) apply(newOpt DeviceOptions) {
	if newOpt.DeviceID != "" {
		opt.DeviceID = newOpt.DeviceID
	}
	if newOpt.DeviceName != "" {
		opt.DeviceName = newOpt.DeviceName
	}
	if newOpt.RecordID != "" {
		opt.RecordID = newOpt.RecordID
	}
	if newOpt.ShopID != "" {
		opt.ShopID = newOpt.ShopID
	}
	if newOpt.SubjectPrefix != "" {
		opt.SubjectPrefix = newOpt.SubjectPrefix
	}
	if newOpt.RequestTimeout != 0 {
		opt.RequestTimeout = newOpt.RequestTimeout
	}
	if newOpt.RequestDelivery != DeliveryUndefined {
		opt.RequestDelivery = newOpt.RequestDelivery
	}
	if newOpt.DedupWindow != 0 {
		opt.DedupWindow = newOpt.DedupWindow
	}
	if newOpt.QueueSize != 0 {
		opt.QueueSize = newOpt.QueueSize
	}
	if newOpt.Transport != nil {
		opt.Transport = newOpt.Transport
	}
	if newOpt.Store != nil {
		opt.Store = newOpt.Store
	}
	if newOpt.Catalog != nil {
		opt.Catalog = newOpt.Catalog
	}
	if newOpt.Rules != nil {
		opt.Rules = newOpt.Rules
	}
	if newOpt.Character != nil {
		opt.Character = newOpt.Character
	}
	if newOpt.Telemetry != nil {
		opt.Telemetry = newOpt.Telemetry
	}
	if newOpt.Service != nil {
		opt.Service = newOpt.Service
	}
}

// validate checks that all required options are set and valid.
func (opt *DeviceOptions) validate() error {
	if err := protocol.ValidateDeviceID(opt.DeviceID); err != nil {
		return eris.Wrap(err, "invalid device id")
	}
	if opt.RecordID == "" {
		return eris.New("record id cannot be empty")
	}
	if opt.ShopID == "" {
		return eris.New("shop id cannot be empty")
	}
	if opt.RecordID == opt.ShopID {
		return eris.New("character and shop cannot share a record")
	}
	if opt.RequestTimeout < 0 {
		return eris.New("request timeout cannot be negative")
	}
	if opt.RequestDelivery == DeliveryUndefined {
		return eris.New("request delivery must be specified")
	}
	if opt.DedupWindow <= 0 {
		return eris.New("dedup window must be positive")
	}
	if opt.QueueSize <= 0 {
		return eris.New("queue size must be positive")
	}
	if opt.Transport == nil {
		return eris.New("transport cannot be nil")
	}
	if opt.Service != nil && opt.Service.Prefix() != opt.SubjectPrefix {
		return eris.Errorf("service prefix %q differs from subject prefix %q", opt.Service.Prefix(), opt.SubjectPrefix)
	}
	if opt.Character != nil {
		if err := opt.Character.Validate(); err != nil {
			return eris.Wrap(err, "invalid starting character")
		}
	}
	return nil
}
