// Package bus publica alertas e status do edge no broker MQTT local:
//
//	<base>/<site>/<camera>/alerts   (qos 1)
//	<base>/<site>/<camera>/status   (qos 1, retained)
//	<base>/<site>/edge/status       (qos 1, retained)
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sua-org/edge-agent/internal/core"
)

// Publisher é o que o bus precisa do client MQTT.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Bus struct {
	pub       Publisher
	baseTopic string
	siteID    string
}

func New(pub Publisher, baseTopic, siteID string) *Bus {
	return &Bus{
		pub:       pub,
		baseTopic: strings.TrimSuffix(baseTopic, "/"),
		siteID:    siteID,
	}
}

func (b *Bus) AlertTopic(cameraID string) string {
	return fmt.Sprintf("%s/%s/%s/alerts", b.baseTopic, b.siteID, cameraID)
}

func (b *Bus) CameraStatusTopic(cameraID string) string {
	return fmt.Sprintf("%s/%s/%s/status", b.baseTopic, b.siteID, cameraID)
}

func (b *Bus) EdgeStatusTopic() string {
	return fmt.Sprintf("%s/%s/edge/status", b.baseTopic, b.siteID)
}

// SendAlert deixa o Bus ser usado como sink extra do dispatcher.
func (b *Bus) SendAlert(ctx context.Context, alert core.Alert) error {
	return b.publish(b.AlertTopic(alert.CameraID), false, alert)
}

func (b *Bus) PublishCameraStatus(cameraID string, status any) error {
	return b.publish(b.CameraStatusTopic(cameraID), true, status)
}

func (b *Bus) PublishEdgeStatus(status any) error {
	return b.publish(b.EdgeStatusTopic(), true, status)
}

func (b *Bus) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	if err := b.pub.Publish(topic, 1, retained, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
