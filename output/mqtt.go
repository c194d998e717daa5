// mlx90640-recorder - acquire calibrated thermal images from MLX90640 sensors
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.


package output

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
)

const mqttTimeout = 5 * time.Second

var errPublishTimeout = errors.New("output: mqtt publish timed out")

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client-id"`
	QoS      byte   `yaml:"qos"`
}

// Summary is what MQTTSink publishes for each frame. Temperatures are
// in °C and skip pixels that could not be computed.
type Summary struct {
	Slot      int     `json:"slot"`
	Addr      uint8   `json:"addr"`
	Timestamp uint32  `json:"timestamp"`
	Min       float32 `json:"min"`
	Max       float32 `json:"max"`
	Mean      float32 `json:"mean"`
	Centre    float32 `json:"centre"`
	Valid     int     `json:"valid"`
}

// Summarize computes the Summary of f.
func Summarize(f *Frame) Summary {
	s := Summary{
		Slot:      f.Slot,
		Addr:      f.Addr,
		Timestamp: f.Image.Timestamp,
	}
	var sum float64
	for _, v := range f.Image.Pixels {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			continue
		}
		if s.Valid == 0 || v < s.Min {
			s.Min = v
		}
		if s.Valid == 0 || v > s.Max {
			s.Max = v
		}
		sum += float64(v)
		s.Valid++
	}
	if s.Valid > 0 {
		s.Mean = float32(sum / float64(s.Valid))
	}
	s.Centre = f.Image.Pixels[(mlx90640.Height/2)*mlx90640.Width+mlx90640.Width/2]
	return s
}

// MQTTSink publishes a JSON Summary of each frame.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTSink connects to the configured broker.
func NewMQTTSink(conf MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().AddBroker(conf.Broker).SetClientID(conf.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, errors.New("output: mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return newMQTTSink(c, conf.Topic, conf.QoS), nil
}

func newMQTTSink(client mqtt.Client, topic string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, qos: qos}
}

func (s *MQTTSink) Name() string {
	return "mqtt " + s.topic
}

func (s *MQTTSink) Send(f *Frame) error {
	msg, err := json.Marshal(Summarize(f))
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, s.qos, false, msg)
	if !token.WaitTimeout(mqttTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
