package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersAndRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PacketsSent.WithLabelValues("upload").Inc()
	m.PacketsSent.WithLabelValues("upload").Inc()
	m.BytesTransfered.WithLabelValues("download").Add(128)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	var sawSent, sawBytes bool
	for _, fam := range families {
		switch fam.GetName() {
		case "fastdata_packets_sent_total":
			sawSent = true
			if got := counterValue(fam); got != 2 {
				t.Fatalf("packets_sent = %v, want 2", got)
			}
		case "fastdata_bytes_transferred_total":
			sawBytes = true
			if got := counterValue(fam); got != 128 {
				t.Fatalf("bytes_transferred = %v, want 128", got)
			}
		}
	}
	if !sawSent || !sawBytes {
		t.Fatalf("missing expected metric families: sent=%v bytes=%v", sawSent, sawBytes)
	}
}

func counterValue(fam *dto.MetricFamily) float64 {
	var total float64
	for _, m := range fam.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}
