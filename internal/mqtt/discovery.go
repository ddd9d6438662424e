// Home Assistant MQTT auto-discovery.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery
package mqtt

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tphakala/twsaudio/internal/errors"
)

// idSanitizer replaces characters Home Assistant does not accept in ids
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID ensures the ID contains only valid characters for MQTT topics and HA entity IDs.
func SanitizeID(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// DiscoveryPayload represents a Home Assistant MQTT discovery message.
type DiscoveryPayload struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	StateTopic          string          `json:"state_topic"`
	ValueTemplate       string          `json:"value_template,omitempty"`
	Icon                string          `json:"icon,omitempty"`
	PayloadAvailable    string          `json:"payload_available,omitempty"`
	PayloadNotAvailable string          `json:"payload_not_available,omitempty"`
	AvailabilityTopic   string          `json:"availability_topic,omitempty"`
	Device              DiscoveryDevice `json:"device"`
}

// DiscoveryDevice represents the device information in a discovery payload.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type sensor struct {
	key      string
	name     string
	topic    string
	template string
	icon     string
}

var sensors = []sensor{
	{"pipeline_state", "Pipeline state", pipelineStateTopic, "{{ value_json.to }}", "mdi:state-machine"},
	{"anc_state", "ANC state", ancStateTopic, "{{ value_json.to }}", "mdi:headphones"},
	{"anc_mode", "ANC mode", ancModeTopic, "{{ value_json.active_mode }}", "mdi:tune"},
	{"anc_gain", "Leak-through gain", ancGainTopic, "{{ value_json.leakthrough_gain }}", "mdi:volume-high"},
}

// DiscoveryMessages returns the discovery topic and payload of every sensor
func (p *Publisher) DiscoveryMessages(discoveryPrefix, nodeName, version string) (map[string][]byte, error) {
	node := SanitizeID(nodeName)
	device := DiscoveryDevice{
		Identifiers:  []string{"twsaudio_" + node},
		Name:         nodeName,
		Manufacturer: "twsaudio",
		Model:        "earbud",
		SWVersion:    version,
	}

	out := make(map[string][]byte, len(sensors))
	for _, s := range sensors {
		uid := node + "_" + s.key
		payload, err := json.Marshal(DiscoveryPayload{
			Name:                s.name,
			UniqueID:            uid,
			StateTopic:          p.Topic(s.topic),
			ValueTemplate:       s.template,
			Icon:                s.icon,
			AvailabilityTopic:   p.Topic(availabilityTopic),
			PayloadAvailable:    payloadOnline,
			PayloadNotAvailable: payloadOffline,
			Device:              device,
		})
		if err != nil {
			return nil, errors.New(err).
				Component(ComponentMQTT).
				Category(errors.CategoryMQTTPublish).
				Context("sensor", s.key).
				Build()
		}
		out[discoveryPrefix+"/sensor/"+uid+"/config"] = payload
	}
	return out, nil
}

// PublishDiscovery announces every sensor to Home Assistant
func (p *Publisher) PublishDiscovery(ctx context.Context, discoveryPrefix, nodeName, version string) error {
	msgs, err := p.DiscoveryMessages(discoveryPrefix, nodeName, version)
	if err != nil {
		return err
	}
	var errs []error
	for topic, payload := range msgs {
		if err := p.client.Publish(ctx, topic, payload, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
