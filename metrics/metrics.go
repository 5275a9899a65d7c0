// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wraps prometheus registries per subsystem and merges
// them behind one gatherer the daemon exposes over /metrics.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry is a prometheus registry: registerer plus gatherer.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a fresh registry for one subsystem.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// MultiGatherer gathers from several subsystem registries, prefixing
// each metric with its subsystem name.
type MultiGatherer interface {
	prometheus.Gatherer
	Register(namespace string, gatherer prometheus.Gatherer) error
}

type multiGatherer struct {
	mu        sync.RWMutex
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer creates an empty multi-gatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{gatherers: make(map[string]prometheus.Gatherer)}
}

func (mg *multiGatherer) Register(namespace string, gatherer prometheus.Gatherer) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if _, ok := mg.gatherers[namespace]; ok {
		return fmt.Errorf("metrics: namespace %q already registered", namespace)
	}
	mg.gatherers[namespace] = gatherer
	return nil
}

func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	var out []*dto.MetricFamily
	for namespace, g := range mg.gatherers {
		families, err := g.Gather()
		if err != nil {
			return nil, err
		}
		for _, f := range families {
			if f.Name != nil && namespace != "" {
				name := namespace + "_" + *f.Name
				f.Name = &name
			}
			out = append(out, f)
		}
	}
	return out, nil
}
