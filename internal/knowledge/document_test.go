package knowledge

import (
	"strings"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestComposeCycleDocument(t *testing.T) {
	doc := ComposeCycleDocument(CycleSummary{
		CycleID:          "F5904471-012",
		FloatID:          "F5904471",
		WMOID:            "5904471",
		ProjectName:      "ARGO India",
		PIName:           "Dr. Rao",
		PlatformType:     "APEX",
		DeploymentDate:   time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
		CycleNumber:      12,
		ProfileDate:      time.Date(2023, 3, 15, 6, 0, 0, 0, time.UTC),
		ProfileType:      "primary",
		Latitude:         18.42,
		Longitude:        68.11,
		MinTemperature:   ptr(2.13),
		MaxTemperature:   ptr(27.9),
		MinSalinity:      ptr(34.5),
		MaxSalinity:      ptr(36.2),
		MinPressure:      ptr(1.0),
		MaxPressure:      ptr(2000.0),
		MeasurementCount: 512,
	})

	if doc.ID != "F5904471-012" {
		t.Errorf("ID = %q, want cycle ID", doc.ID)
	}

	for _, section := range []string{
		"Float Metadata:", "Temporal Context:", "Measurements Summary:", "Geographic Context:",
	} {
		if !strings.Contains(doc.Content, section) {
			t.Errorf("content missing section %q", section)
		}
	}
	for _, want := range []string{
		"Float ID: F5904471",
		"Cycle Number: 12",
		"Temperature Range: 2.13 to 27.90 °C",
		"Salinity Range: 34.50 to 36.20 PSU",
		"Number of Measurements: 512",
		"Location: 18.42°N, 68.11°E",
	} {
		if !strings.Contains(doc.Content, want) {
			t.Errorf("content missing %q:\n%s", want, doc.Content)
		}
	}

	wantMeta := map[string]any{
		"float_id":          "F5904471",
		"cycle_number":      12,
		"project_name":      "ARGO India",
		"measurement_count": 512,
	}
	for k, v := range wantMeta {
		if doc.Metadata[k] != v {
			t.Errorf("metadata[%s] = %v, want %v", k, doc.Metadata[k], v)
		}
	}
}

func TestComposeCycleDocument_MissingMeasurements(t *testing.T) {
	doc := ComposeCycleDocument(CycleSummary{
		CycleID: "F1-001",
		FloatID: "F1",
	})

	if !strings.Contains(doc.Content, "Temperature Range: N/A to N/A") {
		t.Errorf("content should mark absent ranges as N/A:\n%s", doc.Content)
	}
	if !strings.Contains(doc.Content, "Deployment Date: N/A") {
		t.Error("zero deployment date should render as N/A")
	}
}
