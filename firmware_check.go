package main

import (
	"fmt"
	"log"

	goversion "github.com/hashicorp/go-version"
)

// CheckFirmware gates the experiment on the spectrometer server version.
// Older firmware silently mishandles the shim command mid-run, which is far
// worse than refusing to start.
func CheckFirmware(spectrometer Spectrometer, minimum string) error {
	if minimum == "" {
		return nil
	}
	current, err := spectrometer.FirmwareVersion()
	if err != nil {
		return fmt.Errorf("failed to read spectrometer firmware version: %w", err)
	}
	have, err := goversion.NewVersion(current)
	if err != nil {
		return fmt.Errorf("spectrometer reported unparseable firmware version %q: %w", current, err)
	}
	want, err := goversion.NewVersion(minimum)
	if err != nil {
		return fmt.Errorf("invalid instrument.min_firmware %q: %w", minimum, err)
	}
	if have.LessThan(want) {
		return fmt.Errorf("spectrometer firmware %s is older than required %s", have, want)
	}
	log.Printf("Instrument: firmware %s satisfies minimum %s", have, want)
	return nil
}
