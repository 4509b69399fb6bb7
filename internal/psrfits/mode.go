// Package psrfits reads and writes PSRFITS archives split across numbered
// files, one subintegration per table row.
package psrfits

import (
	"strings"

	"github.com/rs/zerolog"
)

// Mode is the acquisition mode of an archive
type Mode int

const (
	Search Mode = iota + 1
	Fold
)

func (m Mode) String() string {
	switch m {
	case Search:
		return "SEARCH"
	case Fold:
		return "FOLD"
	}
	return "UNKNOWN"
}

// Classification is the result of matching an OBS_MODE tag. Fallback is set
// when the tag matched no known prefix and Search was assumed.
type Classification struct {
	Mode     Mode
	Fallback bool
}

var modePrefixes = []struct {
	prefix string
	mode   Mode
}{
	{"SEARCH", Search},
	{"FOLD", Fold},
	{"PSR", Fold},
	{"CAL", Fold},
}

// ClassifyMode matches tag against the known OBS_MODE prefixes, in order and
// case-sensitively
func ClassifyMode(tag string) Classification {
	for _, p := range modePrefixes {
		if strings.HasPrefix(tag, p.prefix) {
			return Classification{Mode: p.mode}
		}
	}
	return Classification{Mode: Search, Fallback: true}
}

// ResolveMode classifies tag and warns when it falls back to Search
func ResolveMode(tag string, logger zerolog.Logger) Mode {
	c := ClassifyMode(tag)
	if c.Fallback {
		logger.Warn().Str("obs_mode", tag).Msgf("obs_mode '%s' not recognized, defaulting to SEARCH", tag)
	}
	return c.Mode
}
