package protocol

import (
	"github.com/argus-labs/beacon/pkg/micro"
)

// DefaultPrefix is the subject prefix of every beacon subject.
const DefaultPrefix = "beacon"

const (
	sendRequestToken  = "send_request"
	sendResponseToken = "send_response"
	requestToken      = "request"
	responseToken     = "response"
	discoverToken     = "discover"
	infoToken         = "info"
)

// Subjects names the subjects under a prefix:
//
//	<prefix>.send_request      outbound requests, routed by DefenderID
//	<prefix>.send_response     outbound answers, routed by AggressorID
//	<prefix>.<device>.request  inbound requests for a device
//	<prefix>.<device>.response inbound answers for a device
//	<prefix>.discover          presence requests answered by every device
//	<prefix>.<device>.info     presence request answered by one device
type Subjects struct {
	Prefix string
}

// NewSubjects validates prefix and returns its subject set.
func NewSubjects(prefix string) (Subjects, error) {
	if err := micro.ValidatePrefix(prefix); err != nil {
		return Subjects{}, err
	}
	return Subjects{Prefix: prefix}, nil
}

func (s Subjects) SendRequest() string {
	return micro.Subject(s.Prefix, sendRequestToken)
}

func (s Subjects) SendResponse() string {
	return micro.Subject(s.Prefix, sendResponseToken)
}

func (s Subjects) Request(deviceID string) string {
	return micro.Subject(s.Prefix, deviceID, requestToken)
}

func (s Subjects) Response(deviceID string) string {
	return micro.Subject(s.Prefix, deviceID, responseToken)
}

// AllRequests matches the inbound request subject of every device.
func (s Subjects) AllRequests() string {
	return micro.Subject(s.Prefix, "*", requestToken)
}

// Discover is answered by every running device.
func (s Subjects) Discover() string {
	return micro.Subject(s.Prefix, discoverToken)
}

// Info is answered by deviceID only.
func (s Subjects) Info(deviceID string) string {
	return micro.Subject(s.Prefix, deviceID, infoToken)
}
