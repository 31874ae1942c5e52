package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = StageSyncSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// StageSyncSemVer is the current version of stagesync.
	// Must be a string because scripts like dist.sh read this file.
	StageSyncSemVer = "0.1.0"
)

// Protocol is used for implementation agnostic versioning.
type Protocol uint64

// Uint64 returns the Protocol version as a uint64.
func (p Protocol) Uint64() uint64 {
	return uint64(p)
}

// StoreProtocol versions the on-disk layout of tables and stage checkpoints.
const StoreProtocol Protocol = 1
