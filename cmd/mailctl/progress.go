package main

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/mailctl/internal/attachments"
	"github.com/matheus3301/mailctl/internal/bus"
	intsync "github.com/matheus3301/mailctl/internal/sync"
)

const progressBuffer = 256

// follow hands every event under namespace to handle on a separate goroutine
// until the returned stop is called. stop unsubscribes, drains what is already
// buffered and waits for handle to return. It may be called more than once.
func follow(b *bus.Bus, namespace string, handle func(bus.Event)) (stop func()) {
	if b == nil {
		return func() {}
	}
	events, unsubscribe := b.Subscribe(namespace, progressBuffer)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		for {
			select {
			case evt := <-events:
				handle(evt)
			case <-done:
				for {
					select {
					case evt := <-events:
						handle(evt)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			<-finished
		})
	}
}

// attachmentProgress prints each file as it lands on disk.
func attachmentProgress(p *printer) func(bus.Event) {
	return func(evt bus.Event) {
		if evt.Kind != bus.KindAttachmentDownloaded {
			return
		}
		d, ok := evt.Payload.(attachments.Downloaded)
		if !ok {
			return
		}
		p.Infof("  %s (%s)", d.Path, humanize.Bytes(uint64(d.Bytes)))
	}
}

// pageProgress prints one line per persisted page of a multi-page fetch.
func pageProgress(p *printer) func(bus.Event) {
	pages := 0
	return func(evt bus.Event) {
		pp, ok := evt.Payload.(intsync.PagePersisted)
		if !ok {
			return
		}
		pages++
		p.Infof("  page %d: fetched %s, stored %s (offset %s)",
			pages, humanize.Comma(int64(pp.Fetched)), humanize.Comma(int64(pp.Persisted)), humanize.Comma(int64(pp.Skip)))
	}
}
