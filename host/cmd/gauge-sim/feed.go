package main

import (
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"gaugecluster/cluster"
)

// Feed fans gauge snapshots out to websocket clients. Publish is called
// from the control loop and never blocks; slow clients miss snapshots.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []cluster.Status]struct{}
	last    []cluster.Status
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[chan []cluster.Status]struct{}),
	}
}

// Publish hands a snapshot to every client
func (f *Feed) Publish(s []cluster.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = s
	for ch := range f.clients {
		select {
		case ch <- s:
		default:
		}
	}
}

// Last returns the most recent snapshot
func (f *Feed) Last() []cluster.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Handler serves the feed on /gauges
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gauges", f.serveWS)
	return mux
}

func (f *Feed) subscribe() chan []cluster.Status {
	ch := make(chan []cluster.Status, 4)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	if f.last != nil {
		ch <- f.last
	}
	f.mu.Unlock()
	return ch
}

func (f *Feed) unsubscribe(ch chan []cluster.Status) {
	f.mu.Lock()
	delete(f.clients, ch)
	f.mu.Unlock()
}

func (f *Feed) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch := f.subscribe()
	defer f.unsubscribe(ch)

	// Detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case s := <-ch:
			if err := conn.WriteJSON(s); err != nil {
				glog.V(1).Infof("websocket write: %v", err)
				return
			}
		case <-gone:
			return
		}
	}
}
