/*
Package sink is the persistence boundary named but not core-defined: the
runtime dispatches events to an EventSink if one is configured, and never
assumes a particular storage format or location beyond that interface.

NopSink is the default (no persistence). FileSink persists every event to
a bbolt database as a sequence-numbered record, so an offline reader can
walk the bucket with a cursor and get events back in dispatch order:

	fs, _ := sink.NewFileSink("/var/lib/vmicore/events.db")
	defer fs.Close()
	em.RequestEvent(&events.Subscription{
		Kind:     types.KindWildcard,
		Callback: func(e types.Event) { _ = fs.Write(e) },
	}, false)
*/
package sink
