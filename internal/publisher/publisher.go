// Package publisher handles MQTT topic routing and JSON state assembly.
package publisher

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sweeney/nut-monitor/internal/metrics"
	"github.com/sweeney/nut-monitor/internal/monitor"
	"github.com/sweeney/nut-monitor/internal/nut"
)

// Message is a single MQTT publish request.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Publisher is the minimal interface the rest of the codebase uses to send
// MQTT messages. The real MQTT client and FakePublisher both implement it.
type Publisher interface {
	Publish(msg Message) error
	Close() error
}

// PublishConfig groups the MQTT routing parameters.
type PublishConfig struct {
	Prefix   string
	Retained bool
}

// StateMessage is the JSON payload for a device's combined state topic.
// Computed uses metrics.Metrics directly; its JSON tags define the wire format.
type StateMessage struct {
	Timestamp   string            `json:"timestamp"`
	UPSName     string            `json:"ups_name"`
	Description string            `json:"description"`
	Variables   map[string]string `json:"variables"`
	Computed    metrics.Metrics   `json:"computed"`
}

// OnlineState is the LWT / online-announcement payload.
type OnlineState struct {
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

// PublishSnapshot publishes every device of snap in directory order. It
// stops at the first publish error.
func PublishSnapshot(snap monitor.Snapshot, cfg PublishConfig, pub Publisher) error {
	for _, d := range snap.Devices {
		s, ok := snap.Summaries[d.Name]
		if !ok {
			continue
		}
		if err := PublishDevice(snap.Time, d, s, metrics.Compute(s), cfg, pub); err != nil {
			return fmt.Errorf("publishing %s: %w", d.Name, err)
		}
	}
	return nil
}

// PublishDevice publishes every variable of s as an individual topic, every
// computed metric under the "computed/" sub-tree, and the combined JSON
// state topic.
func PublishDevice(
	at time.Time,
	d nut.Device,
	s nut.Summary,
	m metrics.Metrics,
	cfg PublishConfig,
	pub Publisher,
) error {
	vars := s.Vars()

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		topic := fmt.Sprintf("%s/%s/%s", cfg.Prefix, d.Name, strings.ReplaceAll(name, ".", "/"))
		if err := pub.Publish(Message{Topic: topic, Payload: vars[name], Retained: cfg.Retained}); err != nil {
			return err
		}
	}

	for name, payload := range m.AsTopicMap() {
		topic := fmt.Sprintf("%s/%s/computed/%s", cfg.Prefix, d.Name, name)
		if err := pub.Publish(Message{Topic: topic, Payload: payload, Retained: cfg.Retained}); err != nil {
			return err
		}
	}

	state := StateMessage{
		Timestamp:   at.UTC().Format(time.RFC3339),
		UPSName:     d.Name,
		Description: d.Description,
		Variables:   vars,
		Computed:    m,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	return pub.Publish(Message{
		Topic:    StateTopic(cfg.Prefix, d.Name),
		Payload:  string(payload),
		Retained: cfg.Retained,
	})
}

// PublishOnline announces the monitor's availability on the status topic.
// The message is always retained so late subscribers see it.
func PublishOnline(online bool, cfg PublishConfig, pub Publisher) error {
	return pub.Publish(Message{
		Topic:    StatusTopic(cfg.Prefix),
		Payload:  FormatOnline(online),
		Retained: true,
	})
}

// FormatOnline returns the JSON payload for the availability announcement.
func FormatOnline(online bool) string {
	payload, _ := json.Marshal(OnlineState{
		Online:    online,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}

// FormatOffline returns the JSON payload for the offline announcement and LWT.
func FormatOffline() string {
	return FormatOnline(false)
}

// StateTopic returns the MQTT topic used for a device's combined state message.
func StateTopic(prefix, upsName string) string {
	return fmt.Sprintf("%s/%s/state", prefix, upsName)
}

// StatusTopic returns the monitor availability topic, also used as LWT.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}
