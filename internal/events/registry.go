package events

import "fmt"

// Audit event names.
const (
	SequenceStarted   = "sequence.started"
	SequenceFinished  = "sequence.finished"
	SequenceFailed    = "sequence.failed"
	SequenceRecovered = "sequence.recovered"
	SetReset          = "set.reset"
	ScheduleAdvanced  = "schedule.advanced"
	DeviceConnected   = "device.connected"
	DeviceLost        = "device.disconnected"
	SystemStartup     = "system.startup"
	SystemShutdown    = "system.shutdown"
	SystemError       = "system.error"
)

var allowedEvents = map[string]struct{}{
	// sequence
	SequenceStarted:   {},
	SequenceFinished:  {},
	SequenceFailed:    {},
	SequenceRecovered: {},
	SetReset:          {},

	// schedule
	ScheduleAdvanced: {},

	// activity
	"activity.start":              {},
	"activity.pause":              {},
	"activity.resume":             {},
	"activity.finish":             {},
	"activity.reset":              {},
	"activity.finish-participant": {},
	"activity.resume-participant": {},

	// device
	DeviceConnected: {},
	DeviceLost:      {},

	// system
	SystemStartup:  {},
	SystemShutdown: {},
	SystemError:    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
