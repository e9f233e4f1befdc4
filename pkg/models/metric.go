package models

import (
	"encoding/json"
	"fmt"
)

// Availability describes the outcome of collecting or deriving one metric.
type Availability string

const (
	// AvailabilityAvailable means the value was fully measured.
	AvailabilityAvailable Availability = "available"
	// AvailabilityPartial means the value was measured from incomplete inputs.
	AvailabilityPartial Availability = "partial"
	// AvailabilityInsufficientData means the upstream responded but did not
	// contain enough data to derive a value.
	AvailabilityInsufficientData Availability = "insufficient_data"
	// AvailabilityNotAvailable means the upstream does not expose this data.
	AvailabilityNotAvailable Availability = "not_available"
	// AvailabilityError means collection or computation failed.
	AvailabilityError Availability = "error"
)

// Metric is a measured quantity tagged with its collection outcome. A value
// exists only when the status is available or partial, so a fabricated value
// with an "unavailable" status is unrepresentable. Construct metrics through
// Available, PartialValue, Insufficient, NotAvailable or Failed.
type Metric struct {
	status Availability
	reason string
	value  float64
}

// Available returns a fully measured metric.
func Available(v float64) Metric {
	return Metric{status: AvailabilityAvailable, value: v}
}

// PartialValue returns a metric measured from incomplete inputs.
func PartialValue(v float64, reason string) Metric {
	return Metric{status: AvailabilityPartial, value: v, reason: reason}
}

// Insufficient returns a valueless metric: upstream data was too thin.
func Insufficient(reason string) Metric {
	return Metric{status: AvailabilityInsufficientData, reason: reason}
}

// NotAvailable returns a valueless metric the upstream cannot provide.
func NotAvailable(reason string) Metric {
	return Metric{status: AvailabilityNotAvailable, reason: reason}
}

// Failed returns a valueless metric whose collection errored.
func Failed(reason string) Metric {
	return Metric{status: AvailabilityError, reason: reason}
}

// Status returns the collection outcome. The zero Metric reports
// not_available rather than an empty status.
func (m Metric) Status() Availability {
	if m.status == "" {
		return AvailabilityNotAvailable
	}
	return m.status
}

// Reason returns the optional explanation for a degraded status.
func (m Metric) Reason() string { return m.reason }

// Usable reports whether the metric carries a value.
func (m Metric) Usable() bool {
	return m.status == AvailabilityAvailable || m.status == AvailabilityPartial
}

// Value returns the measured value; ok is false when no value exists.
func (m Metric) Value() (v float64, ok bool) {
	if !m.Usable() {
		return 0, false
	}
	return m.value, true
}

// ValueOrZero returns the value for usable metrics and 0 otherwise. Missing
// data degrades a weighted score instead of disqualifying the entity.
func (m Metric) ValueOrZero() float64 {
	v, _ := m.Value()
	return v
}

type metricJSON struct {
	Status Availability `json:"status"`
	Value  *float64     `json:"value,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// MarshalJSON serializes the metric with the value present only when usable.
func (m Metric) MarshalJSON() ([]byte, error) {
	out := metricJSON{Status: m.Status(), Reason: m.reason}
	if m.Usable() {
		v := m.value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a metric, rejecting rows where a value is paired
// with a valueless status.
func (m *Metric) UnmarshalJSON(data []byte) error {
	var in metricJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Status {
	case AvailabilityAvailable, AvailabilityPartial:
		if in.Value == nil {
			return fmt.Errorf("metric with status %q has no value", in.Status)
		}
		m.status = in.Status
		m.value = *in.Value
		m.reason = in.Reason
	case AvailabilityInsufficientData, AvailabilityNotAvailable, AvailabilityError:
		if in.Value != nil {
			return fmt.Errorf("metric with status %q must not carry a value", in.Status)
		}
		m.status = in.Status
		m.value = 0
		m.reason = in.Reason
	default:
		return fmt.Errorf("unknown metric status %q", in.Status)
	}
	return nil
}
