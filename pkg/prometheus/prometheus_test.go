// Copyright 2022 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prometheus

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

var (
	allocatedMetric   = &Metric{Name: "pages_allocated", Type: TypeCounter, Help: "Pages allocated.\nCumulative."}
	outstandingMetric = &Metric{Name: "pages_outstanding", Type: TypeGauge}
)

func TestWriteParses(t *testing.T) {
	timeNow = func() time.Time { return time.Unix(1000, 0) }
	defer func() { timeNow = time.Now }()

	snapshot := NewSnapshot().Add(
		NewIntData(allocatedMetric, 12),
		LabeledIntData(outstandingMetric, map[string]string{"strategy": "lazy"}, 3),
	)
	var buf bytes.Buffer
	n, err := Write(&buf, ExportOptions{CommentHeader: "paging device\ncounters"}, snapshot, SnapshotExportOptions{
		ExporterPrefix: "paging_",
		ExtraLabels:    map[string]string{"device": "paging"},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != buf.Len() {
		t.Errorf("Write returned %d bytes, buffer has %d", n, buf.Len())
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("output does not parse: %v\n%s", err, buf.String())
	}

	type sample struct {
		Type   dto.MetricType
		Labels map[string]string
		Value  float64
		Millis int64
	}
	got := make(map[string]sample)
	for name, family := range families {
		if len(family.GetMetric()) != 1 {
			t.Fatalf("family %q has %d samples, want 1", name, len(family.GetMetric()))
		}
		m := family.GetMetric()[0]
		s := sample{Type: family.GetType(), Labels: map[string]string{}, Millis: m.GetTimestampMs()}
		for _, lp := range m.GetLabel() {
			s.Labels[lp.GetName()] = lp.GetValue()
		}
		switch family.GetType() {
		case dto.MetricType_COUNTER:
			s.Value = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			s.Value = m.GetGauge().GetValue()
		}
		got[name] = s
	}
	want := map[string]sample{
		"paging_pages_allocated": {
			Type:   dto.MetricType_COUNTER,
			Labels: map[string]string{"device": "paging"},
			Value:  12,
			Millis: 1000000,
		},
		"paging_pages_outstanding": {
			Type:   dto.MetricType_GAUGE,
			Labels: map[string]string{"device": "paging", "strategy": "lazy"},
			Value:  3,
			Millis: 1000000,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parsed metrics mismatch (-want +got):\n%s", diff)
	}
	if help := families["paging_pages_allocated"].GetHelp(); help != "Pages allocated.\nCumulative." {
		t.Errorf("help = %q", help)
	}
}

func TestOrderedLabelsDuplicate(t *testing.T) {
	if _, err := OrderedLabels(map[string]string{"a": "1"}, map[string]string{"a": "2"}); err == nil {
		t.Errorf("OrderedLabels accepted a duplicate label")
	}
	got, err := OrderedLabels(map[string]string{"b": "2", "a": "1"})
	if err != nil {
		t.Fatalf("OrderedLabels: %v", err)
	}
	if want := []string{`a="1"`, `b="2"`}; !cmp.Equal(want, got) {
		t.Errorf("OrderedLabels = %v, want %v", got, want)
	}
}

func TestDuplicateLabelFailsWrite(t *testing.T) {
	snapshot := NewSnapshot().Add(LabeledIntData(allocatedMetric, map[string]string{"device": "x"}, 1))
	var buf bytes.Buffer
	if _, err := Write(&buf, ExportOptions{}, snapshot, SnapshotExportOptions{ExtraLabels: map[string]string{"device": "y"}}); err == nil {
		t.Errorf("Write succeeded with conflicting labels")
	}
}
