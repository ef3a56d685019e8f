package inject

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/masterbooter/masterbooter/pkg/bcd"
	"github.com/rs/zerolog"
)

// Relaxation lists the {default} entry settings that let file-copied, unsigned drivers load.
var Relaxation = [][2]string{
	{"loadoptions", "DDISABLE_INTEGRITY_CHECKS"},
	{"nointegritychecks", "on"},
	{"testsigning", "on"},
}

// Relax turns off driver signature enforcement in the store. Every setting is tried on its
// own, the returned error only carries the ones that failed and should be treated as warnings.
func Relax(ctx context.Context, store bcd.Store, logger zerolog.Logger) error {
	var errs error
	applied := 0
	for _, s := range Relaxation {
		if err := store.Set(ctx, bcd.Default, s[0], s[1]); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s %s: %w", s[0], s[1], err))
			continue
		}
		applied++
	}
	if applied > 0 {
		logger.Warn().Str("store", store.Path).Int("settings", applied).
			Msg("driver signature enforcement relaxed, unsigned drivers will load on this media")
	}
	return errs
}
