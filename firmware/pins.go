//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 5  // ADC read interval in milliseconds
	NUM_SAMPLES        = 32 // Number of samples averaged per output line

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // 12-bit = 0-4095

	// Capacitive soil probe output. SOIL_CHANNEL is reported on every line so
	// the host can reject samples from an unexpected input.
	PIN_SOIL_ADC = machine.A6
	SOIL_CHANNEL = 6

	// Probe power is switched between bursts to limit electrolysis.
	PIN_SOIL_POWER = machine.D7

	// Format "uptime_ms,channel,code\n", worst case "4294967295,6,4095\n" = 18 bytes.
	// About 6 lines/sec is far below what 115200 baud carries.
	UART_BAUD_RATE = 115200
)
