package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/progress"
	"github.com/oshokin/rkflash/internal/registry"
	"github.com/oshokin/rkflash/internal/service/flasher"
	"github.com/oshokin/rkflash/internal/service/poller"
	"github.com/oshokin/rkflash/internal/session"
	"github.com/oshokin/rkflash/internal/version"
)

// Session is the part of the session store the API uses.
type Session interface {
	Snapshot() *flash.Session
	State() (flash.State, string)
	Select(ctx context.Context, board flash.BoardType, version string) (*flash.Session, error)
	SetChecked(ctx context.Context, locID string, checked bool) (*flash.Session, error)
	SetAllChecked(ctx context.Context, checked bool) (*flash.Session, error)
}

// Flasher starts flash runs and maskrom switches.
type Flasher interface {
	Start(ctx context.Context) (string, error)
	SwitchToMaskrom(ctx context.Context, locIDs []string) error
}

// Refresher enumerates devices on demand.
type Refresher interface {
	RefreshNow(ctx context.Context) error
}

// Events is a source of progress updates.
type Events interface {
	Subscribe() (<-chan progress.Update, func())
	Latest() (progress.Update, bool)
}

// Catalog lists release versions.
type Catalog func() ([]string, error)

// Options wire the API to the station components.
type Options struct {
	Session   Session
	Flasher   Flasher
	Refresher Refresher
	Events    Events
	Catalog   Catalog
	Boards    flash.BoardTable
	// Shutdown is closed when the HTTP server stops; open event streams end.
	Shutdown  <-chan struct{}
}

// Server exposes the station over HTTP.
type Server struct {
	session   Session
	flasher   Flasher
	refresher Refresher
	events    Events
	catalog   Catalog
	boards    flash.BoardTable
	shutdown  <-chan struct{}
}

// SessionResponse is the body of GET /api/session.
type SessionResponse struct {
	State   flash.State    `json:"state"`
	RunID   string         `json:"run_id,omitempty"`
	Session *flash.Session `json:"session"`
}

// SelectRequest is the body of PUT /api/session.
type SelectRequest struct {
	Board   flash.BoardType `json:"board"`
	Version string          `json:"version"`
}

// CheckRequest is the body of PUT /api/devices and PUT /api/devices/:loc_id.
type CheckRequest struct {
	Checked bool `json:"checked"`
}

// MaskromRequest is the body of POST /api/maskrom.
type MaskromRequest struct {
	LocIDs []string `json:"loc_ids"`
}

// FlashResponse is the body of POST /api/flash.
type FlashResponse struct {
	RunID string `json:"run_id"`
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	return &Server{
		session:   opts.Session,
		flasher:   opts.Flasher,
		refresher: opts.Refresher,
		events:    opts.Events,
		catalog:   opts.Catalog,
		boards:    opts.Boards,
		shutdown:  opts.Shutdown,
	}
}

// Echo builds the router with request logging bound to ctx's logger.
func (s *Server) Echo(ctx context.Context) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger(logger.WithName(ctx, "http")))

	s.Register(e)

	return e
}

// Register mounts the API routes on e.
func (s *Server) Register(e *echo.Echo) {
	api := e.Group("/api")

	api.GET("/session", s.getSession)
	api.PUT("/session", s.putSession)
	api.PUT("/devices", s.putAllDevices)
	api.PUT("/devices/:loc_id", s.putDevice)
	api.POST("/devices/refresh", s.refreshDevices)
	api.POST("/flash", s.startFlash)
	api.POST("/maskrom", s.maskrom)
	api.GET("/versions", s.getVersions)
	api.GET("/boards", s.getBoards)
	api.GET("/events", s.streamEvents)
	api.GET("/version", s.getVersion)
}

func requestLogger(ctx context.Context) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Path(), "/events")
		},
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			kvs := []any{"method", v.Method, "uri", v.URI, "status", v.Status}
			if v.Error != nil {
				kvs = append(kvs, "error", v.Error)
			}

			logger.DebugKV(ctx, "HTTP request", kvs...)

			return nil
		},
	})
}

func (s *Server) getSession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sessionResponse(s.session.Snapshot()))
}

func (s *Server) sessionResponse(snapshot *flash.Session) *SessionResponse {
	state, runID := s.session.State()

	return &SessionResponse{State: state, RunID: runID, Session: snapshot}
}

func (s *Server) putSession(c echo.Context) error {
	var req SelectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Board != "" {
		if _, err := s.boards.Lookup(req.Board); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	if req.Version != "" {
		if err := s.checkVersion(req.Version); err != nil {
			return err
		}
	}

	snapshot, err := s.session.Select(c.Request().Context(), req.Board, req.Version)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, s.sessionResponse(snapshot))
}

func (s *Server) checkVersion(version string) error {
	versions, err := s.catalog()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	for _, v := range versions {
		if v == version {
			return nil
		}
	}

	return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("release %q not found", version))
}

func (s *Server) putDevice(c echo.Context) error {
	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snapshot, err := s.session.SetChecked(c.Request().Context(), c.Param("loc_id"), req.Checked)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, s.sessionResponse(snapshot))
}

func (s *Server) putAllDevices(c echo.Context) error {
	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snapshot, err := s.session.SetAllChecked(c.Request().Context(), req.Checked)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, s.sessionResponse(snapshot))
}

func (s *Server) refreshDevices(c echo.Context) error {
	if err := s.refresher.RefreshNow(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, s.sessionResponse(s.session.Snapshot()))
}

func (s *Server) startFlash(c echo.Context) error {
	runID, err := s.flasher.Start(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusAccepted, &FlashResponse{RunID: runID})
}

func (s *Server) maskrom(c echo.Context) error {
	var req MaskromRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.flasher.SwitchToMaskrom(c.Request().Context(), req.LocIDs); err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, s.sessionResponse(s.session.Snapshot()))
}

func (s *Server) getVersions(c echo.Context) error {
	versions, err := s.catalog()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, versions)
}

func (s *Server) getBoards(c echo.Context) error {
	profiles := make([]flash.Profile, 0, len(s.boards))

	for _, name := range s.boards.Names() {
		profile, _ := s.boards.Lookup(name)
		profiles = append(profiles, profile)
	}

	return c.JSON(http.StatusOK, profiles)
}

func (s *Server) getVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Current())
}

// streamEvents sends progress updates as server-sent events until the
// client goes away.
func (s *Server) streamEvents(c echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event stream disabled")
	}

	updates, cancel := s.events.Subscribe()
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	if latest, ok := s.events.Latest(); ok {
		if err := writeEvent(w, latest); err != nil {
			return err
		}
	}

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-s.shutdown:
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}

			if err := writeEvent(w, update); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *echo.Response, update progress.Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}

	if _, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
		return err
	}

	w.Flush()

	return nil
}

func toHTTPError(err error) error {
	var enumErr *registry.EnumerationError

	switch {
	case errors.Is(err, session.ErrUnknownDevice):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrRunInProgress),
		errors.Is(err, flasher.ErrBusy),
		errors.Is(err, poller.ErrPaused):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &enumErr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
