package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"frota/internal/aggregate"
	"frota/internal/filter"
	"frota/internal/log"

	"github.com/gorilla/websocket"
)

const (
	liveReadyTimeout = 10 * time.Second
	liveWriteTimeout = 10 * time.Second
)

// liveFrame is pushed to the client after every applied snapshot.
type liveFrame struct {
	Type      string              `json:"type"`
	Version   uint64              `json:"version,omitempty"`
	Dashboard aggregate.Dashboard `json:"dashboard"`
	At        time.Time           `json:"at"`
}

// liveRequest lets the client change the dashboard filter without
// reconnecting.
type liveRequest struct {
	Type     string `json:"type"`
	Period   string `json:"period"`
	TruckID  string `json:"truckId"`
	DriverID string `json:"driverId"`
	TripID   string `json:"tripId"`
	RentalID string `json:"rentalId"`
}

func (m liveRequest) criteria() filter.Criteria {
	return ParseCriteria(url.Values{
		"period":   {m.Period},
		"truckId":  {m.TruckID},
		"driverId": {m.DriverID},
		"tripId":   {m.TripID},
		"rentalId": {m.RentalID},
	})
}

// handleLive streams the account dashboard over a websocket. A session
// closed by the registry is reacquired transparently.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		ErrorResponse(http.StatusServiceUnavailable, "live dashboard disabled").Write(w)
		return
	}
	account := AccountFromContext(r.Context())
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentLive)

	sess, err := s.sessions.Acquire(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	criteria := ParseCriteria(r.URL.Query())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "Websocket upgrade failed", log.FieldError, err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	requests := make(chan filter.Criteria, 1)
	go s.readLive(ctx, cancel, conn, requests)

	readyCtx, readyCancel := context.WithTimeout(ctx, liveReadyTimeout)
	err = sess.Wait(readyCtx)
	readyCancel()
	if err != nil {
		logger.WarnContext(ctx, "Live session not ready", log.FieldError, err)
		return
	}

	push := func(t string) error {
		frame := liveFrame{Type: t, Version: sess.Version(), Dashboard: sess.Dashboard(criteria), At: s.now().UTC()}
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return conn.WriteJSON(frame)
	}
	if err := push("dashboard"); err != nil {
		return
	}
	logger.InfoContext(ctx, "Live client connected")

	watch := sess.Watch(ctx)
	ping := time.NewTicker(s.livePing)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "Live client disconnected")
			return
		case c := <-requests:
			criteria = c
			if err := push("dashboard"); err != nil {
				return
			}
		case _, ok := <-watch:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				sess, err = s.sessions.Acquire(ctx, account)
				if err != nil {
					logger.ErrorContext(ctx, "Live session reacquire failed", log.FieldError, err)
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session lost"),
						time.Now().Add(time.Second))
					return
				}
				watch = sess.Watch(ctx)
				if err := sess.Wait(ctx); err != nil {
					return
				}
			}
			if err := push("dashboard"); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readLive consumes client frames until the connection fails. Filter
// requests replace any unread one.
func (s *Server) readLive(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, requests chan filter.Criteria) {
	defer cancel()
	deadline := 3 * s.livePing
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				log.FromContext(ctx).DebugContext(ctx, "Live read ended", log.FieldError, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		var msg liveRequest
		if json.Unmarshal(data, &msg) != nil || msg.Type != "filter" {
			continue
		}
		select {
		case <-requests:
		default:
		}
		select {
		case requests <- msg.criteria():
		case <-ctx.Done():
			return
		}
	}
}
