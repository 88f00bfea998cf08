package mirror

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// MsgTypeInbound 入站消息类型标识
const MsgTypeInbound = "mqtt_inbound"

// Message 一条入站 MQTT 消息。文本载荷放 Text, 否则放 Raw (base64)。
type Message struct {
	Topic      string    `json:"topic"`
	Text       string    `json:"text,omitempty"`
	Raw        []byte    `json:"raw,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Payload 包装镜像消息, 增加类型标识与设备标识
type Payload struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	ClientID string  `json:"clientId"`
	Data     Message `json:"data"`
}

func NewPayload(id, clientID, topic string, body []byte, at time.Time) Payload {
	msg := Message{Topic: topic, ReceivedAt: at}
	if utf8.Valid(body) {
		msg.Text = string(body)
	} else {
		msg.Raw = append([]byte(nil), body...)
	}
	return Payload{
		ID:       id,
		Type:     MsgTypeInbound,
		ClientID: clientID,
		Data:     msg,
	}
}

// MarshalJSON 在 data 中注入 msgType 与 clientId, 方便下游按消息本身路由
func (p Payload) MarshalJSON() ([]byte, error) {
	dataBytes, err := json.Marshal(p.Data)
	if err != nil {
		return nil, err
	}

	var dataMap map[string]interface{}
	if err := json.Unmarshal(dataBytes, &dataMap); err != nil {
		return nil, err
	}
	dataMap["msgType"] = p.Type
	dataMap["clientId"] = p.ClientID

	return json.Marshal(&struct {
		ID       string                 `json:"id"`
		Type     string                 `json:"type"`
		ClientID string                 `json:"clientId"`
		Data     map[string]interface{} `json:"data"`
	}{
		ID:       p.ID,
		Type:     p.Type,
		ClientID: p.ClientID,
		Data:     dataMap,
	})
}
