package kafkaconsumer

import (
	"time"

	"github.com/bchartier/cadastre.gouv/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

func FromConfig(c config.Config) Config {
	return Config{
		Brokers:             c.BrokerList(c.Invalidation.Brokers),
		Topic:               c.Invalidation.Topic,
		GroupID:             c.Invalidation.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
		DedupeSize:          8192,
	}
}
