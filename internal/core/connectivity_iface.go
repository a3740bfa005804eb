package core

// Connectivity reports local network reachability transitions.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}
