/*
Package fiberbus provides a cooperative fiber scheduler joined to an
ordered event bus.

# Overview

Handlers register on a message bus for (source, value) pairs. Producers
send events, which queue and are delivered later by the scheduler's idle
fiber. A handler runs inline on the delivering fiber and only gets a fiber
of its own if it blocks, by sleeping, waiting for an event or waiting on a
lock. Handler code never runs on the timer goroutine unless it is
registered as Immediate.

The subpackages can be used on their own. Runtime wires them together:

	rt, err := fiberbus.New(config.DefaultSettings())
	if err != nil {
	    log.Fatal(err)
	}
	defer rt.Close()

	if err := rt.Start(context.Background()); err != nil {
	    log.Fatal(err)
	}

	rt.Bus().ListenFunc(buttonA, event.ValueAny, func(e event.Event) {
	    rt.Scheduler().Sleep(100) // forks a fiber; the bus keeps going
	    fmt.Println("pressed", e.Value)
	}, event.DefaultFlags)

	for {
	    rt.Scheduler().Sleep(1000)
	}

The goroutine that calls New becomes the main fiber. Blocking scheduler
operations must only be called from fibers: the main fiber, fibers made
with CreateFiber, and bus handlers.

# Events

An event is two 16-bit ids and a millisecond timestamp. Zero is the
wildcard on either id. event.New builds an event and, by default, sends
it through the runtime's bus:

	event.New(buttonA, buttonClick)

# Listener Flags

  - DropIfBusy: discard events that arrive while the handler is running
  - QueueIfBusy: buffer them, up to a configured depth (the default)
  - Reentrant: start another invocation right away
  - Immediate: run synchronously inside Send, before it returns

# Journaling

Setting Settings.JournalPath records every processed event to SQLite,
under a session id unique to the runtime instance. See package bridge.

# Observability

Pass WithLogger or WithLogOutput for structured logs. Settings.Metrics and
Settings.Tracing switch on OpenTelemetry instruments against the global
providers.
*/
package fiberbus
