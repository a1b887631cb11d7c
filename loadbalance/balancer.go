// Package loadbalance picks the server instance a client call goes to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances
//   - ConsistentHash:  affinity, so calls for one account land on one instance
package loadbalance

import (
	"errors"

	"authz-rpc/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer selects one instance for a call. key is the call's affinity key;
// strategies without affinity ignore it. Implementations are goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name, defaulting to round robin.
func New(name string) Balancer {
	switch name {
	case "WeightedRandom":
		return &WeightedRandomBalancer{}
	case "ConsistentHash":
		return NewConsistentHashBalancer()
	}
	return &RoundRobinBalancer{}
}
