package engine

// Remote method names. The worker registers handlers under these names.
const (
	MethodLoadNN       = "loadNN"
	MethodClear        = "clear"
	MethodTimeSettings = "timeSettings"
	MethodGenmove      = "genmove"
	MethodPlay         = "play"
	MethodPass         = "pass"
	MethodSearch       = "search"
	MethodFinalScore   = "finalScore"
	MethodPonder       = "ponder"
	MethodStop         = "stop"
	MethodTimeLeft     = "timeLeft"
)
