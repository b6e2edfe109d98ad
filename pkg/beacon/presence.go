package beacon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/argus-labs/beacon/pkg/challenge"
	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/protocol"
	"github.com/rotisserie/eris"
)

// DefaultDiscoverWindow is how long Discover waits for devices to answer.
const DefaultDiscoverWindow = 500 * time.Millisecond

// presenceTimeout bounds how long a presence request waits for the device loop.
const presenceTimeout = 2 * time.Second

// Presence is what a running device advertises about itself.
type Presence struct {
	DeviceID  string `json:"device_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Available bool   `json:"available"`
	Health    int    `json:"health"`
	Attack    int    `json:"attack"`
}

// advertise answers <prefix>.discover and <prefix>.<id>.info on svc.
func (d *Device) advertise(svc *micro.Service) error {
	if err := svc.AddEndpoint("discover", d.handlePresence); err != nil {
		return err
	}
	return svc.AddGroup(d.id).AddEndpoint("info", d.handlePresence)
}

func (d *Device) handlePresence(ctx context.Context, _ *micro.Request) *micro.Response {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()

	p, err := d.Presence(ctx)
	if err != nil {
		return micro.NewErrorResponse(err, micro.CodeUnavailable)
	}
	return micro.NewSuccessResponse(p)
}

// Presence describes the device as other devices see it.
func (d *Device) Presence(ctx context.Context) (Presence, error) {
	p := Presence{DeviceID: d.id, Name: d.name}
	err := d.do(ctx, func(context.Context) error {
		state := d.machine.State()
		p.State = state.String()
		p.Available = state == challenge.StateIdle
		return nil
	})
	if err != nil {
		return Presence{}, err
	}

	character, err := d.ledger.Character(ctx)
	if err != nil {
		return Presence{}, err
	}
	p.Health = character.Health
	p.Attack = character.Attack
	return p, nil
}

// Discover lists the devices under prefix that answer within window, sorted by id.
func Discover(ctx context.Context, client *micro.Client, prefix string, window time.Duration) ([]Presence, error) {
	subjects, err := protocol.NewSubjects(prefix)
	if err != nil {
		return nil, eris.Wrap(err, "invalid subject prefix")
	}

	responses, err := client.Gather(ctx, subjects.Discover(), nil, window)
	if err != nil {
		return nil, eris.Wrap(err, "discovery interrupted")
	}

	devices := make([]Presence, 0, len(responses))
	for _, resp := range responses {
		var p Presence
		if err := resp.Decode(&p); err != nil {
			continue
		}
		devices = append(devices, p)
	}
	slices.SortFunc(devices, func(a, b Presence) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return devices, nil
}

// Lookup asks a single device for its presence.
func Lookup(ctx context.Context, client *micro.Client, prefix, deviceID string) (Presence, error) {
	subjects, err := protocol.NewSubjects(prefix)
	if err != nil {
		return Presence{}, eris.Wrap(err, "invalid subject prefix")
	}
	if err := protocol.ValidateDeviceID(deviceID); err != nil {
		return Presence{}, eris.Wrap(err, "invalid device id")
	}

	resp, err := client.Call(ctx, subjects.Info(deviceID), nil)
	if err != nil {
		return Presence{}, eris.Wrapf(err, "device %s did not answer", deviceID)
	}
	var p Presence
	if err := resp.Decode(&p); err != nil {
		return Presence{}, err
	}
	return p, nil
}
