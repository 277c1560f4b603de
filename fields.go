package surge

import "github.com/zoobzio/capitan"

// Field keys for surge events.
var (
	// KeySource is the name of the source involved in an event.
	KeySource = capitan.NewStringKey("source")

	// KeySourceID is the unique instance id of the source.
	KeySourceID = capitan.NewStringKey("source_id")

	// KeySubscriber is the subscriber id involved in an event.
	KeySubscriber = capitan.NewStringKey("subscriber")

	// KeyAction is the action identity involved in an event.
	KeyAction = capitan.NewStringKey("action")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyAttempt is the failed-attempt count when a retry is scheduled.
	KeyAttempt = capitan.NewIntKey("attempt")

	// KeyDelay is the delay before a scheduled retry or forward fires.
	KeyDelay = capitan.NewDurationKey("delay")

	// KeyInterval is the configured interval of a refreshing operator.
	KeyInterval = capitan.NewDurationKey("interval")

	// KeyPath is the file path of a file-backed store.
	KeyPath = capitan.NewStringKey("path")
)
