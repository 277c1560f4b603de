package surge

import "github.com/zoobzio/capitan"

// Source lifecycle signals.
var (
	// SourceCreated is emitted when a source is constructed.
	SourceCreated = capitan.NewSignal(
		"surge.source.created",
		"Source constructed",
	)

	// SourceClosed is emitted when a source is closed and its actions expire.
	SourceClosed = capitan.NewSignal(
		"surge.source.closed",
		"Source closed",
	)

	// SourceWrote is emitted when a source publishes a new state.
	SourceWrote = capitan.NewSignal(
		"surge.source.wrote",
		"Source state replaced",
	)
)

// Subscription signals.
var (
	// SubscriberAdded is emitted when a subscriber registers.
	SubscriberAdded = capitan.NewSignal(
		"surge.subscriber.added",
		"Subscriber registered",
	)

	// SubscriberRemoved is emitted when a subscriber unsubscribes.
	SubscriberRemoved = capitan.NewSignal(
		"surge.subscriber.removed",
		"Subscriber unsubscribed",
	)

	// SubscriberPurged is emitted when a dead weak subscriber is dropped
	// during delivery.
	SubscriberPurged = capitan.NewSignal(
		"surge.subscriber.purged",
		"Dead weak subscriber purged",
	)
)

// Action signals.
var (
	// ActionInvoked is emitted on every successful action invocation.
	ActionInvoked = capitan.NewSignal(
		"surge.action.invoked",
		"Action invoked",
	)

	// ActionFailed is emitted on every failed action invocation.
	ActionFailed = capitan.NewSignal(
		"surge.action.failed",
		"Action invocation failed",
	)
)

// Fetch signals.
var (
	// FetchStarted is emitted when a fetch source begins a fetch.
	FetchStarted = capitan.NewSignal(
		"surge.fetch.started",
		"Fetch started",
	)

	// FetchSucceeded is emitted when a fetch completes with a value.
	FetchSucceeded = capitan.NewSignal(
		"surge.fetch.succeeded",
		"Fetch succeeded",
	)

	// FetchErrored is emitted when a fetch completes with an error.
	FetchErrored = capitan.NewSignal(
		"surge.fetch.failed",
		"Fetch failed",
	)
)

// Persistence signals.
var (
	// PersistLoaded is emitted when a persisted value is found on load.
	PersistLoaded = capitan.NewSignal(
		"surge.persist.loaded",
		"Persisted value loaded",
	)

	// PersistMissed is emitted when no persisted value is found on load.
	PersistMissed = capitan.NewSignal(
		"surge.persist.missed",
		"No persisted value found",
	)

	// PersistSaved is emitted when a value is written through to the store.
	PersistSaved = capitan.NewSignal(
		"surge.persist.saved",
		"Value persisted",
	)

	// PersistCleared is emitted when the persisted value is cleared.
	PersistCleared = capitan.NewSignal(
		"surge.persist.cleared",
		"Persisted value cleared",
	)
)

// Operator signals.
var (
	// RetryScheduled is emitted when a retry timer is armed.
	RetryScheduled = capitan.NewSignal(
		"surge.retry.scheduled",
		"Retry scheduled",
	)

	// RetryExhausted is emitted when a retry strategy declines further retries.
	RetryExhausted = capitan.NewSignal(
		"surge.retry.exhausted",
		"Retry strategy exhausted",
	)

	// FailureForwarded is emitted when a retained failure is surfaced
	// downstream per the forward policy.
	FailureForwarded = capitan.NewSignal(
		"surge.retry.forwarded",
		"Failure forwarded downstream",
	)

	// RefreshTicked is emitted on each interval-refresh tick.
	RefreshTicked = capitan.NewSignal(
		"surge.refresh.ticked",
		"Interval refresh tick",
	)
)
