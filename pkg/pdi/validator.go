// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of record anomalies
type AnomalyType int

const (
	AnomalyReservedOption AnomalyType = iota
	AnomalyBatteryRange
	AnomalyTemperatureRange
	AnomalyQuaternionNorm
	AnomalyInvalidValue
)

// Plausibility limits for decoded values
const (
	minBatteryVolts   = 2.5
	maxBatteryVolts   = 5.5
	minTemperatureC   = -40.0
	maxTemperatureC   = 85.0
	quaternionNormTol = 0.05
)

// ValidationError represents a record that decoded but holds implausible values
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateRecord checks a decoded record for anomalies.
// Returns a slice of validation errors (empty if the record is plausible).
func ValidateRecord(r Record) []ValidationError {
	switch v := r.(type) {
	case *SensorSample:
		return validateSample(v)
	case LogRecord:
		if v.Sample != nil {
			return validateSample(v.Sample)
		}
	case ModuleStatus:
		return validateStatus(v)
	case Temperature:
		return validateTemperature(v.Celsius)
	}
	return nil
}

func validateSample(s *SensorSample) []ValidationError {
	errors := []ValidationError{}

	if s.Options&^AllStreamOptions != 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyReservedOption,
			Message: fmt.Sprintf("Reserved option bits set (0x%04X)", uint16(s.Options&^AllStreamOptions)),
			Details: map[string]interface{}{"options": uint16(s.Options)},
		})
	}

	if s.BatteryVolts != nil {
		errors = append(errors, validateBattery(*s.BatteryVolts)...)
	}

	if s.Temperature != nil {
		errors = append(errors, validateTemperature(*s.Temperature)...)
	}

	if q := s.Quaternion; q != nil {
		norm := math.Sqrt(float64(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z))
		if math.Abs(norm-1) > quaternionNormTol {
			errors = append(errors, ValidationError{
				Type:    AnomalyQuaternionNorm,
				Message: fmt.Sprintf("Quaternion not normalized (|q|=%.4f)", norm),
				Details: map[string]interface{}{"norm": norm, "tolerance": quaternionNormTol},
			})
		}
	}

	return errors
}

func validateStatus(s ModuleStatus) []ValidationError {
	errors := []ValidationError{}

	if s.ChargerState > ChargerComplete {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid charger state 0x%02X", uint8(s.ChargerState)),
			Details: map[string]interface{}{"charger_state": uint8(s.ChargerState)},
		})
	}

	return errors
}

func validateBattery(volts float32) []ValidationError {
	if volts < minBatteryVolts || volts > maxBatteryVolts {
		return []ValidationError{{
			Type:    AnomalyBatteryRange,
			Message: fmt.Sprintf("Battery out of range (%.3f V, valid: %.1f to %.1f V)", volts, minBatteryVolts, maxBatteryVolts),
			Details: map[string]interface{}{"value": volts, "min": minBatteryVolts, "max": maxBatteryVolts},
		}}
	}
	return nil
}

func validateTemperature(celsius float32) []ValidationError {
	if celsius < minTemperatureC || celsius > maxTemperatureC {
		return []ValidationError{{
			Type:    AnomalyTemperatureRange,
			Message: fmt.Sprintf("Temperature out of range (%.2f°C, valid: %.0f to %.0f°C)", celsius, minTemperatureC, maxTemperatureC),
			Details: map[string]interface{}{"value": celsius, "min": minTemperatureC, "max": maxTemperatureC},
		}}
	}
	return nil
}
