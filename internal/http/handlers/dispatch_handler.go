// README: Dispatch handlers: candidate listing, claim, decline and the live candidate socket.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ridecore/internal/auth"
	"ridecore/internal/http/middleware"
	"ridecore/internal/logging"
	"ridecore/internal/modules/dispatch"
	"ridecore/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

type DispatchHandler struct {
	dispatch *dispatch.Service
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewDispatchHandler(svc *dispatch.Service, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		dispatch: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.OrNop(logger),
	}
}

// List returns open requests. Drivers get their session view (declines
// removed); explicit lat/lng override the tracked location. Admins get the
// plain listing.
func (h *DispatchHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	caller := middleware.Caller(c)

	loc, hasLoc, err := queryPoint(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	radius := h.dispatch.RadiusKm()
	if v := c.Query("radius_km"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
	}

	if caller.Is(auth.RoleDriver) && !hasLoc {
		snap, err := h.dispatch.OpenSession(caller.UserID).Candidates(ctx)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, toSnapshotResponse(snap))
		return
	}

	var at *types.Point
	if hasLoc {
		at = &loc
	}
	rides, err := h.dispatch.ListOpenRequests(ctx, at, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if caller.Is(auth.RoleDriver) {
		sess := h.dispatch.OpenSession(caller.UserID)
		visible := rides[:0]
		for _, r := range rides {
			if !sess.Declined(r.ID) {
				visible = append(visible, r)
			}
		}
		rides = visible
	}
	writeJSON(c, http.StatusOK, toSnapshotResponse(dispatch.Snapshot{
		Rides:    rides,
		Degraded: !hasLoc,
		At:       time.Now().UTC(),
	}))
}

func queryPoint(c *gin.Context) (types.Point, bool, error) {
	latS, lngS := c.Query("lat"), c.Query("lng")
	if latS == "" && lngS == "" {
		return types.Point{}, false, nil
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lng, err2 := strconv.ParseFloat(lngS, 64)
	p := types.Point{Lat: lat, Lng: lng}
	if err1 != nil || err2 != nil || !p.Valid() {
		return types.Point{}, false, errInvalidPoint
	}
	return p, true, nil
}

func (h *DispatchHandler) Claim(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.dispatch.ClaimRide(c.Request.Context(), id, middleware.Caller(c).UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(r))
}

func (h *DispatchHandler) Decline(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	h.dispatch.DeclineRide(middleware.Caller(c).UserID, id)
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "declined": true})
}

// CloseSession drops the caller's declines and ends any live sockets.
func (h *DispatchHandler) CloseSession(c *gin.Context) {
	h.dispatch.CloseSession(middleware.Caller(c).UserID)
	c.Status(http.StatusNoContent)
}

type wsClientMessage struct {
	Type   string   `json:"type"`
	RideID types.ID `json:"ride_id"`
}

type wsServerMessage struct {
	Type     string           `json:"type"`
	Snapshot snapshotResponse `json:"snapshot"`
}

// Watch upgrades to a WebSocket that receives a candidates message on connect
// and after every ride change. Clients may send {"type":"decline","ride_id":…}.
func (h *DispatchHandler) Watch(c *gin.Context) {
	caller := middleware.Caller(c)
	sess := h.dispatch.OpenSession(caller.UserID)
	// fail before the upgrade so the client sees a plain HTTP status
	if _, err := sess.Candidates(c.Request.Context()); err != nil {
		writeServiceError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("driver_id", string(caller.UserID)), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps, err := sess.Watch(ctx)
	if err != nil {
		h.logger.Error("watch candidates", zap.String("driver_id", string(caller.UserID)), zap.Error(err))
		closeWS(conn, websocket.CloseInternalServerErr, "live updates unavailable")
		return
	}

	declines := make(chan types.ID, 8)
	go readDeclines(ctx, conn, declines, cancel)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	h.logger.Info("dispatch socket opened", zap.String("driver_id", string(caller.UserID)))
	defer h.logger.Info("dispatch socket closed", zap.String("driver_id", string(caller.UserID)))

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				closeWS(conn, websocket.CloseNormalClosure, "session closed")
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		case id := <-declines:
			sess.Decline(id)
			snap, err := sess.Candidates(ctx)
			if err != nil {
				closeWS(conn, websocket.CloseNormalClosure, "session closed")
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func readDeclines(ctx context.Context, conn *websocket.Conn, out chan<- types.ID, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "decline" || msg.RideID == "" {
			continue
		}
		select {
		case out <- msg.RideID:
		case <-ctx.Done():
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap dispatch.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(wsServerMessage{Type: "candidates", Snapshot: toSnapshotResponse(snap)})
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
