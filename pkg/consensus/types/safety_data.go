package types

// SafetyData is the validator state that must survive a crash. It is written
// durably before the validator votes in a new view.
type SafetyData struct {
	LockedQC        *QuorumCertificate
	HighQC          *QuorumCertificate
	LastVotedView   ViewNumber
	CommittedHeight Height
	CurrentView     ViewNumber
}
