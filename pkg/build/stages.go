package build

import cnst "github.com/masterbooter/masterbooter/internal/constants"

// Class decides what a stage failure does to the build.
type Class string

const (
	// Optional failures are recorded as warnings and the build goes on.
	Optional Class = "optional"
	// Mandatory failures abort the remaining stages and clean up.
	Mandatory Class = "mandatory"
	// Verification failures leave the media in place as built but unverified.
	Verification Class = "verification"
)

type Stage struct {
	Op    string
	Class Class
}

// Stages is the fixed pipeline, in run order.
var Stages = []Stage{
	{cnst.OpDetectSource, Mandatory},
	{cnst.OpMountImage, Mandatory},
	{cnst.OpInstallPackages, Optional},
	{cnst.OpApplyFixes, Optional},
	{cnst.OpInjectDrivers, Mandatory},
	{cnst.OpInjectNetwork, Optional},
	{cnst.OpPlaceTools, Optional},
	{cnst.OpConfigureShell, Optional},
	{cnst.OpCommitImage, Mandatory},
	{cnst.OpExportImage, Mandatory},
	{cnst.OpAssembleMedia, Mandatory},
	{cnst.OpVerifyMedia, Verification},
}

// ClassOf returns the class of op. Unknown ops are treated as mandatory.
func ClassOf(op string) Class {
	for _, s := range Stages {
		if s.Op == op {
			return s.Class
		}
	}
	return Mandatory
}

func stageIndex(op string) int {
	for i, s := range Stages {
		if s.Op == op {
			return i
		}
	}
	return -1
}
