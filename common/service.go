// common/service.go
package common

import "github.com/YaganovValera/eventbus/common/backoff"

// ServiceNameKey is the metric label shared by all subsystems.
const ServiceNameKey = "service"

// InitServiceName sets the service label used by shared metrics.
// Call it from main() before the first retry or metric.
func InitServiceName(name string) {
	backoff.SetServiceLabel(name)
}
