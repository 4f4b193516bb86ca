// Package metrics counts the §7 error taxonomy (CRASH, OMISSION, BYZANTINE,
// PARTITION) and exposes the node's coordination state as Prometheus
// metrics, grounded on the client_golang usage in the retrieved pack
// (hashicorp-serf, go-mcast, prometheus-alertmanager).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry wraps the counters and gauges one node instance maintains. Each
// node gets its own Registry so multiple nodes in one test binary don't
// collide on Prometheus's default global registry.
type Registry struct {
	reg *prometheus.Registry

	Crash     prometheus.Counter
	Omission  prometheus.Counter
	Byzantine prometheus.Counter
	Partition prometheus.Counter

	CurrentLeader prometheus.Gauge
	GroupViewSize prometheus.Gauge
	InPartition   prometheus.Gauge
}

// New builds a fresh, independently-registered metric set.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		Crash: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupwire_faults_crash_total",
			Help: "Peers declared crashed by the fault detector.",
		}),
		Omission: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupwire_faults_omission_total",
			Help: "Reliable messages that exhausted retries or hit a transport error.",
		}),
		Byzantine: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupwire_faults_byzantine_total",
			Help: "Datagrams dropped for parse failure or checksum mismatch.",
		}),
		Partition: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupwire_faults_partition_total",
			Help: "Transitions into a detected network partition.",
		}),
		CurrentLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groupwire_current_leader_id",
			Help: "PeerId of the node this process currently believes is leader (0 if none).",
		}),
		GroupViewSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groupwire_group_view_size",
			Help: "Number of peers currently known to the group view.",
		}),
		InPartition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groupwire_in_partition",
			Help: "1 if the partition detector currently believes this node is partitioned, else 0.",
		}),
	}

	reg.MustRegister(r.Crash, r.Omission, r.Byzantine, r.Partition, r.CurrentLeader, r.GroupViewSize, r.InPartition)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
