// Package local is a resource manager that runs inside the scheduler process.
// It stands in for a cluster resource manager on a single host or a small
// fixed set of hosts: agents come from configuration, offers are made on an
// interval and executors run as goroutines of this process.
package local
