package knowledge

import (
	"fmt"
	"strings"
	"time"
)

// CycleSummary aggregates one cycle's data for document composition.
type CycleSummary struct {
	CycleID        string
	FloatID        string
	WMOID          string
	ProjectName    string
	PIName         string
	PlatformType   string
	DeploymentDate time.Time
	CycleNumber    int
	ProfileDate    time.Time
	ProfileType    string
	Latitude       float64
	Longitude      float64

	MinTemperature, MaxTemperature *float64
	MinSalinity, MaxSalinity       *float64
	MinPressure, MaxPressure       *float64
	MeasurementCount               int
}

// ComposeCycleDocument renders one cycle as the four-section text document
// used for embedding, keyed by cycle ID.
func ComposeCycleDocument(c CycleSummary) Document {
	var b strings.Builder

	fmt.Fprintf(&b, "Float Metadata:\n")
	fmt.Fprintf(&b, "Float ID: %s\n", c.FloatID)
	fmt.Fprintf(&b, "WMO ID: %s\n", c.WMOID)
	fmt.Fprintf(&b, "Project: %s\n", c.ProjectName)
	fmt.Fprintf(&b, "Principal Investigator: %s\n", c.PIName)
	fmt.Fprintf(&b, "Platform Type: %s\n", c.PlatformType)
	fmt.Fprintf(&b, "Deployment Date: %s\n\n", formatDate(c.DeploymentDate))

	fmt.Fprintf(&b, "Temporal Context:\n")
	fmt.Fprintf(&b, "Profile Date: %s\n", formatDate(c.ProfileDate))
	fmt.Fprintf(&b, "Cycle Number: %d\n", c.CycleNumber)
	fmt.Fprintf(&b, "Profile Type: %s\n\n", c.ProfileType)

	fmt.Fprintf(&b, "Measurements Summary:\n")
	fmt.Fprintf(&b, "Temperature Range: %s to %s °C\n", formatMeasure(c.MinTemperature), formatMeasure(c.MaxTemperature))
	fmt.Fprintf(&b, "Salinity Range: %s to %s PSU\n", formatMeasure(c.MinSalinity), formatMeasure(c.MaxSalinity))
	fmt.Fprintf(&b, "Pressure Range: %s to %s dbar\n", formatMeasure(c.MinPressure), formatMeasure(c.MaxPressure))
	fmt.Fprintf(&b, "Number of Measurements: %d\n\n", c.MeasurementCount)

	fmt.Fprintf(&b, "Geographic Context:\n")
	fmt.Fprintf(&b, "Location: %.2f°N, %.2f°E\n", c.Latitude, c.Longitude)
	fmt.Fprintf(&b, "Latitude: %g\n", c.Latitude)
	fmt.Fprintf(&b, "Longitude: %g\n", c.Longitude)

	return Document{
		ID:      c.CycleID,
		Content: b.String(),
		Metadata: map[string]any{
			"float_id":          c.FloatID,
			"cycle_number":      c.CycleNumber,
			"latitude":          c.Latitude,
			"longitude":         c.Longitude,
			"profile_date":      formatDate(c.ProfileDate),
			"project_name":      c.ProjectName,
			"measurement_count": c.MeasurementCount,
		},
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(time.RFC3339)
}

func formatMeasure(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}
