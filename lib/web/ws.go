package web

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/gotmc/labdaq/lib/proc"
	"go.uber.org/zap"
)

const (
	writeWait = 5 * time.Second
	sendDepth = 16
)

// event is what the dashboard pushes to websocket clients.
type event struct {
	Type   string         `json:"type"`
	File   string         `json:"file,omitempty"`
	Keys   []string       `json:"keys,omitempty"`
	Row    []string       `json:"row,omitempty"`
	Status map[string]any `json:"status,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan event
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	c := &wsClient{conn: conn, send: make(chan event, sendDepth)}

	// Greet with the current status so the page renders without polling.
	// Queued under the lock: once registered, broadcastLoop may close
	// the channel of a client it finds stalled.
	snapshot := event{Type: "status", Status: s.status()}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.clients[id] = c
	c.send <- snapshot
	s.mu.Unlock()

	go c.writeLoop()

	// Drain the connection; the read failing is how we learn the client
	// went away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	if cur, ok := s.clients[id]; ok && cur == c {
		delete(s.clients, id)
		close(c.send)
	}
	s.mu.Unlock()
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.mu.Lock()
			for id, c := range s.clients {
				select {
				case c.send <- ev:
				default:
					// A stalled client does not get to stall the rest.
					delete(s.clients, id)
					close(c.send)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c.send)
	}
}

// push queues an event for broadcast, dropping it if the queue is full.
func (s *Server) push(ev event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Server) pushStatus() {
	s.push(event{Type: "status", Status: s.status()})
}

// monitor pushes a status event whenever a child appears or dies, so
// the page notices runs that exit on their own.
func (s *Server) monitor(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	last := [2]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cur := [2]bool{s.sup.Alive(proc.RoleRun), s.sup.Alive(proc.RoleRamp)}
			if cur != last {
				last = cur
				s.pushStatus()
			}
		}
	}
}

// tailState tracks how far into a data file the watcher has read.
type tailState struct {
	offset int64
	keys   []string
	part   []byte
}

// watch follows the data directory and broadcasts every complete CSV
// row appended to any data file.
func (s *Server) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(s.cfg.Data); err != nil {
		return err
	}

	tails := map[string]*tailState{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".csv") {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create):
				tails[ev.Name] = &tailState{}
				s.pushStatus()
			case ev.Op.Has(fsnotify.Write):
				st := tails[ev.Name]
				if st == nil {
					st = &tailState{}
					tails[ev.Name] = st
				}
				s.tail(ev.Name, st)
			case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
				delete(tails, ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("data watcher", zap.Error(err))
		}
	}
}

// tail reads everything appended since the last read and broadcasts the
// complete rows it finds. Torn trailing lines stay buffered until the
// writer finishes them.
func (s *Server) tail(path string, st *tailState) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(st.offset, 0); err != nil {
		return
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			st.offset += int64(n)
			st.part = append(st.part, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	for {
		i := bytes.IndexByte(st.part, '\n')
		if i < 0 {
			return
		}
		line := strings.TrimRight(string(st.part[:i]), "\r")
		st.part = st.part[i+1:]
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if st.keys == nil {
			st.keys = fields
			continue
		}
		s.push(event{
			Type: "row",
			File: filepath.Base(path),
			Keys: st.keys,
			Row:  fields,
		})
	}
}
