/*
Package surge provides reactive state containers with embedded, expiring
capabilities.

A Source holds exactly one current value and notifies subscribers when it
changes. States can embed Actions: opaque handles to state-mutating methods
of the owning source that stay valid only while the state that offered them
is current. Observers render whatever state they are handed and invoke the
actions inside it; they never reach back into the owner, so the state value
itself is the entire contract between producer and consumer.

# Sources

Create a source with a lazily computed initial value and observe it:

	counter := surge.NewSource("counter", func() int { return 0 })

	id := surge.NewSubscriberID()
	counter.Subscribe(id, true, func(n int) {
	    fmt.Println("counter is now", n)
	})

	counter.Write(1)

Only the creator holds the MutableSource write handle; everyone else gets
the embedded read-only *Source.

# Standard machines

Three standard state machines cover the common remote-value lifecycles:

	users := surge.NewFetchSource("users", fetchUsers,
	    surge.WithTimeout[[]User](5*time.Second),
	    surge.WithRetry[[]User](3),
	)
	prefs := surge.NewPersistSource("prefs", surge.NewFileStore[Prefs](path)).
	    TTL(24 * time.Hour)
	feed := surge.NewConnectSource("feed", openFeed)

Fetchable is Fetching, Fetched, or Failed, with Refresh and Retry actions;
Persistable is NotFound or Found, with Set and Clear; Connectable is
Disconnected or Connected, with Connect and Disconnect. Each machine mints
fresh actions on every transition, so an action captured from a superseded
state fails with ErrActionExpired instead of acting on stale premises.

# Operators

Operators derive new sources from existing ones:

	names := surge.Map(users.Source(), func(f surge.Fetchable[[]User]) string { ... })
	fresh := surge.FilterDuplicates(names)
	both := surge.CombineFetch(users.Source(), teams.Source())
	live := surge.Retrying(both, surge.RetryBackoff(time.Second), surge.ForwardAfterAttempts(3))

A derived source owns its upstream subscriptions and timers; Close releases
them.

# Observability

Every invocation of an action, success or failure, produces one Execution
record on the owning source's audit stream, and package-level capitan
signals trace source, subscription, fetch, and retry activity.

The package is built on top of:
  - pipz: composable reliability pipelines around fetch and save
  - capitan: signal-based observability
  - clockz: injectable clocks for deterministic timer tests
*/
package surge
