//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	adcSoil machine.ADC
	uart    = machine.UART0

	// Running sum for the current burst
	soilSum   uint32
	soilCount int

	lastADCRead time.Time
	bootTime    time.Time
)

func main() {
	PIN_SOIL_POWER.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_SOIL_POWER.High()

	PIN_SOIL_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	adcSoil = machine.ADC{Pin: PIN_SOIL_ADC}
	adcSoil.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	bootTime = time.Now()
	lastADCRead = bootTime

	for {
		now := time.Now()

		if now.Sub(lastADCRead) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			readSoilADC()
			lastADCRead = now
		}

		if soilCount >= NUM_SAMPLES {
			outputAveragedValue(now)
			soilSum = 0
			soilCount = 0
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func readSoilADC() {
	// Get returns a 16-bit left aligned value regardless of resolution
	value := adcSoil.Get() >> (16 - ADC_RESOLUTION)
	soilSum += uint32(value)
	soilCount++
}

func outputAveragedValue(now time.Time) {
	n := soilCount
	if n == 0 {
		n = 1
	}
	avg := uint16(soilSum / uint32(n))

	// The board has no RTC, so lines carry milliseconds since boot.
	// Output format: "uptime_ms,channel,code\n"
	// Example: "123456,6,2048\n"
	print(uint32(now.Sub(bootTime).Milliseconds()))
	print(",")
	print(SOIL_CHANNEL)
	print(",")
	print(avg)
	print("\n")
}
