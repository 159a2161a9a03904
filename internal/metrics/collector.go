package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yeetme/yeet/internal/hosts"
)

var (
	hostsDesc = prometheus.NewDesc(
		"yeet_hosts",
		"Verified hosts by provision state.",
		[]string{"state"}, nil,
	)
	attemptsDesc = prometheus.NewDesc(
		"yeet_verification_attempts_pending",
		"Live verification attempts awaiting acceptance.",
		nil, nil,
	)
	preRegistrationsDesc = prometheus.NewDesc(
		"yeet_pre_registrations",
		"Hosts pre-registered but not yet verified.",
		nil, nil,
	)
	credentialsDesc = prometheus.NewDesc(
		"yeet_credentials",
		"Registered credential keys by level.",
		[]string{"level"}, nil,
	)
)

var provisionKinds = []hosts.ProvisionKind{hosts.NotSet, hosts.Detached, hosts.Provisioned}

// registryCollector reads the registry summary on every scrape.
type registryCollector struct {
	source StatsSource
}

func newRegistryCollector(source StatsSource) *registryCollector {
	return &registryCollector{source: source}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- hostsDesc
	ch <- attemptsDesc
	ch <- preRegistrationsDesc
	ch <- credentialsDesc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	for _, kind := range provisionKinds {
		ch <- prometheus.MustNewConstMetric(hostsDesc, prometheus.GaugeValue, float64(s.HostsByState[kind]), kind.String())
	}
	ch <- prometheus.MustNewConstMetric(attemptsDesc, prometheus.GaugeValue, float64(s.PendingAttempts))
	ch <- prometheus.MustNewConstMetric(preRegistrationsDesc, prometheus.GaugeValue, float64(s.PreRegistrations))
	ch <- prometheus.MustNewConstMetric(credentialsDesc, prometheus.GaugeValue, float64(s.AdminKeys), "admin")
	ch <- prometheus.MustNewConstMetric(credentialsDesc, prometheus.GaugeValue, float64(s.BuildKeys), "build")
}
