package inject

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Report summarizes what injection put into the image. Do not mutate it after Finish.
type Report struct {
	DriversAdded    int
	DriversCopied   int
	FilesCopied     int
	FilesSkipped    int
	ServicesDefined int
	Warnings        []string
	// RequiresRelaxation is set once a driver was only file-copied and has to load unsigned at boot.
	RequiresRelaxation bool

	warnings *multierror.Error
	finished bool
}

func (r *Report) Warn(format string, args ...interface{}) {
	r.warnings = multierror.Append(r.warnings, fmt.Errorf(format, args...))
}

// Finish freezes the warnings list. It returns the warnings as one error, or nil.
func (r *Report) Finish() error {
	if !r.finished {
		r.finished = true
		if r.warnings != nil {
			for _, w := range r.warnings.Errors {
				r.Warnings = append(r.Warnings, w.Error())
			}
		}
	}
	return r.warnings.ErrorOrNil()
}
