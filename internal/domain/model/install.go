package model

// InstallStage names one step of the install state machine. An install
// attempt moves through Resolving, Downloading, Verifying, Installing, and
// Cleanup in order and ends in Success or Failed.
type InstallStage string

const (
	StageResolving   InstallStage = "resolving"
	StageDownloading InstallStage = "downloading"
	StageVerifying   InstallStage = "verifying"
	StageInstalling  InstallStage = "installing"
	StageCleanup     InstallStage = "cleanup"
)

// InstallResult summarizes a finished install attempt.
type InstallResult struct {
	Repository string
	Slug       string
	Tag        string
	Success    bool
	// FailedStage and Reason are set only when Success is false.
	FailedStage InstallStage
	Reason      string
}
