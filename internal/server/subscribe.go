package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/obwan02/Actionator/internal/expressions"
	"github.com/obwan02/Actionator/internal/streaming"
)

// subscriberFilter builds the optional ?filter=&lang= predicate.
func subscriberFilter(r *http.Request) (streaming.Filter, error) {
	expr := r.URL.Query().Get("filter")
	if expr == "" {
		return nil, nil
	}
	return expressions.NewMessageFilter(r.URL.Query().Get("lang"), expr)
}

// wrap applies filter to conn. The returned conn is what gets subscribed.
func wrap(conn streaming.Conn, filter streaming.Filter) streaming.Conn {
	if filter == nil {
		return conn
	}
	return streaming.NewFilteredConn(conn, filter)
}

// wsConn delivers frames as WebSocket text messages. Close ends the
// handler serving it.
type wsConn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

func (c *wsConn) Send(ctx context.Context, frame streaming.Frame) error {
	return c.ws.Write(ctx, websocket.MessageText, frame.Data)
}

func (c *wsConn) Close() { c.cancel() }

// handleWS upgrades to a WebSocket and streams every message until the
// client goes away. Client messages are ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := subscriberFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.deps.Logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(ws.CloseRead(r.Context()))
	defer cancel()
	conn := wrap(&wsConn{ws: ws, cancel: cancel}, filter)
	s.deps.Executor.OnSubscriberConnect(conn)
	s.deps.Logger.Info("subscriber connected", "transport", "ws", "remote", r.RemoteAddr)

	<-ctx.Done()

	s.deps.Executor.OnSubscriberDisconnect(conn)
	_ = ws.Close(websocket.StatusNormalClosure, "")
	s.deps.Logger.Info("subscriber disconnected", "transport", "ws", "remote", r.RemoteAddr)
}

// handleSSE streams every message as a Server-Sent Event named after the
// message kind.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	filter, err := subscriberFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss a message published right after.
	ch := streaming.NewChanConn(0)
	defer ch.Close()
	conn := wrap(ch, filter)
	s.deps.Executor.OnSubscriberConnect(conn)
	defer s.deps.Executor.OnSubscriberDisconnect(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch.Done():
			s.deps.Logger.Info("subscriber dropped", "transport", "sse", "remote", r.RemoteAddr)
			return
		case frame := <-ch.Frames():
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Message.Kind, frame.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
