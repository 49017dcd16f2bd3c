package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/flexgrid-rsa/model"
)

// SpectrumCollector exposes per-endpoint spectrum occupancy and link status
// counts derived from inventory snapshots.
type SpectrumCollector struct {
	gatherer prometheus.Gatherer

	EndpointFreeSlots *prometheus.GaugeVec
	EndpointSlots     *prometheus.GaugeVec
	LinksByStatus     *prometheus.GaugeVec
}

// NewSpectrumCollector registers spectrum metrics against the provided
// registerer.
func NewSpectrumCollector(reg prometheus.Registerer) (*SpectrumCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	free, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsa_endpoint_free_slots",
		Help: "Free flex-grid slots on each spectrum-capable endpoint.",
	}, []string{"device", "endpoint"}), "rsa_endpoint_free_slots")
	if err != nil {
		return nil, err
	}
	total, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsa_endpoint_slots",
		Help: "Flex-grid slots spanned by each spectrum-capable endpoint.",
	}, []string{"device", "endpoint"}), "rsa_endpoint_slots")
	if err != nil {
		return nil, err
	}
	links, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsa_links",
		Help: "Optical links by OTN type and derived status.",
	}, []string{"otn_type", "status"}), "rsa_links")
	if err != nil {
		return nil, err
	}

	return &SpectrumCollector{
		gatherer:          gatherer,
		EndpointFreeSlots: free,
		EndpointSlots:     total,
		LinksByStatus:     links,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SpectrumCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSnapshot replaces every gauge with the state in snap.
func (c *SpectrumCollector) ObserveSnapshot(snap *model.Snapshot) {
	if c == nil || snap == nil {
		return
	}
	c.EndpointFreeSlots.Reset()
	c.EndpointSlots.Reset()
	c.LinksByStatus.Reset()

	for _, d := range snap.Devices {
		for _, ep := range snap.EndpointsByDevice(d.ID) {
			if !ep.HasSpectrum() {
				continue
			}
			c.EndpointFreeSlots.WithLabelValues(d.Name, ep.Name).Set(float64(ep.FreeSlots()))
			c.EndpointSlots.WithLabelValues(d.Name, ep.Name).Set(float64(ep.FlexSlots))
		}
	}
	for i := range snap.Links {
		otn, status, ok := snap.LinkStatus(&snap.Links[i])
		if !ok {
			otn, status = model.OTNError, model.LinkOTNMismatch
		}
		c.LinksByStatus.WithLabelValues(string(otn), string(status)).Inc()
	}
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
