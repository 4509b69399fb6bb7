package converter

import (
	"fmt"
	"strconv"
	"strings"

	"psrfits-tools/internal/config"
)

// positional names the flag each legacy positional argument stands for
var positional = []string{"start-chan", "end-chan", "flip", "fcent", "tsamp"}

// ApplyPositional applies the legacy argument list
// [startchan|bandpass] [endchan] [flip] [fcentMHz] [tsampus] to cfg. An
// argument is ignored when changed reports that its flag was set
// explicitly.
func ApplyPositional(cfg *config.ConversionConfig, args []string, changed func(name string) bool) error {
	if len(args) > len(positional) {
		return fmt.Errorf("too many arguments: %d", len(args))
	}
	for i, arg := range args {
		if changed != nil && changed(positional[i]) {
			continue
		}
		var err error
		switch i {
		case 0:
			if strings.Contains(arg, "bandpass") {
				cfg.Bandpass = true
				continue
			}
			cfg.StartChan, err = strconv.Atoi(arg)
		case 1:
			cfg.EndChan, err = strconv.Atoi(arg)
		case 2:
			cfg.Flip = strings.Contains(arg, "flip")
		case 3:
			cfg.CenterFreq, err = strconv.ParseFloat(arg, 64)
		case 4:
			cfg.SampleTime, err = strconv.ParseFloat(arg, 64)
		}
		if err != nil {
			return fmt.Errorf("invalid %s argument %q: %w", positional[i], arg, err)
		}
	}
	return nil
}
