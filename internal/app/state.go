package app

// AppState is the phase the progress view is in.
type AppState int

const (
	Running AppState = iota
	Finished
	Exiting
)
