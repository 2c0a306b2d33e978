package cli

// Shared CLI flags (used across multiple command files)
var (
	cfgFile      string
	host         string
	port         int
	timeoutMs    int
	jsonOut      bool
	allowRemote  bool
	verbose      bool
	noCorrection bool
)
