package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"
)

// Endpoints groups the service implementations served by the control API.
// Alerts, Camera and AlertFeed are optional.
type Endpoints struct {
	Health    *HealthImplementation
	Auth      *AuthImplementation
	System    *SystemImplementation
	Config    *ConfigImplementation
	Alerts    *AlertsImplementation
	Camera    *CameraImplementation
	AlertFeed http.Handler
}

// MountPoint holds information about a mounted endpoint
type MountPoint struct {
	Method  string
	Verb    string
	Pattern string
}

type route struct {
	MountPoint
	protected bool
	handler   http.Handler
}

// Server lists the control API routes
type Server struct {
	Mounts []*MountPoint
	routes []route
}

// ErrorResult is the body written for service errors
type ErrorResult struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Message   string `json:"message"`
	Temporary bool   `json:"temporary"`
	Timeout   bool   `json:"timeout"`
	Fault     bool   `json:"fault"`
}

type (
	decoderFunc      func(*http.Request) goahttp.Decoder
	encoderFunc      func(context.Context, http.ResponseWriter) goahttp.Encoder
	errorHandlerFunc func(context.Context, http.ResponseWriter, error)
)

// New builds the control API server. protect wraps the routes that require
// an operator token; pass nil to leave every route open.
func New(e *Endpoints, dec decoderFunc, enc encoderFunc, eh errorHandlerFunc, protect func(http.Handler) http.Handler) *Server {
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}

	s := &Server{}
	add := func(method, verb, pattern string, protected bool, h http.HandlerFunc) {
		s.routes = append(s.routes, route{
			MountPoint: MountPoint{Method: method, Verb: verb, Pattern: pattern},
			protected:  protected,
			handler:    h,
		})
	}

	add("Healthz", "GET", "/health", false, handleHealthz(e.Health, enc, eh))
	add("Login", "POST", "/auth/login", false, handleLogin(e.Auth, dec, enc, eh))
	add("AuthStatus", "GET", "/auth/status", true, handleAuthStatus(e.Auth, enc, eh))
	add("Status", "GET", "/status", true, handleStatus(e.System, enc, eh))
	add("StartScheduler", "POST", "/scheduler/start", true, handleStartScheduler(e.System, enc, eh))
	add("StopScheduler", "POST", "/scheduler/stop", true, handleStopScheduler(e.System, enc, eh))
	add("GetConfig", "GET", "/config", true, handleGetConfig(e.Config, enc, eh))
	add("UpdateConfig", "PUT", "/config", true, handleUpdateConfig(e.Config, dec, enc, eh))
	if e.Alerts != nil {
		add("ListAlerts", "GET", "/alerts", true, handleListAlerts(e.Alerts, enc, eh))
	}
	if e.Camera != nil {
		add("Snapshot", "GET", "/snapshot", true, handleSnapshot(e.Camera, enc, eh))
	}
	if e.AlertFeed != nil {
		add("AlertFeed", "GET", "/ws/alerts", false, e.AlertFeed.ServeHTTP)
	}

	for i := range s.routes {
		r := &s.routes[i]
		if r.protected {
			r.handler = protect(r.handler)
		}
		s.Mounts = append(s.Mounts, &r.MountPoint)
	}
	return s
}

// Mount configures the mux to serve the control API endpoints
func Mount(mux goahttp.Muxer, s *Server) {
	for _, r := range s.routes {
		mux.Handle(r.Verb, r.Pattern, r.handler.ServeHTTP)
	}
}

// Service returns the name of the service served
func (s *Server) Service() string { return "aranyani" }

func handleHealthz(svc *HealthImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		res, err := svc.Healthz(ctx)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleLogin(svc *AuthImplementation, dec decoderFunc, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		var body LoginPayload
		if err := decodeBody(dec(r), &body); err != nil {
			respond(ctx, w, 0, nil, err, enc, eh)
			return
		}
		res, err := svc.Login(ctx, &body)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleAuthStatus(svc *AuthImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		res, err := svc.Status(ctx)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleStatus(svc *SystemImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		res, err := svc.Status(ctx)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleStartScheduler(svc *SystemImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		res, err := svc.StartScheduler(ctx)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleStopScheduler(svc *SystemImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		res, err := svc.StopScheduler(ctx)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleGetConfig(svc *ConfigImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		res, err := svc.Get(ctx)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleUpdateConfig(svc *ConfigImplementation, dec decoderFunc, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		var body UpdateConfigPayload
		if err := decodeBody(dec(r), &body); err != nil {
			respond(ctx, w, 0, nil, err, enc, eh)
			return
		}
		res, err := svc.Update(ctx, &body)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleListAlerts(svc *AlertsImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		payload, err := decodeListAlertsRequest(r)
		if err != nil {
			respond(ctx, w, 0, nil, err, enc, eh)
			return
		}
		res, err := svc.List(ctx, payload)
		respond(ctx, w, http.StatusOK, res, err, enc, eh)
	}
}

func handleSnapshot(svc *CameraImplementation, enc encoderFunc, eh errorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withAccept(r)
		sample, err := svc.Snapshot(ctx)
		if err != nil {
			respond(ctx, w, 0, nil, err, enc, eh)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(sample.Data))
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Captured-At", sample.CapturedAt.UTC().Format(time.RFC3339Nano))
		w.WriteHeader(http.StatusOK)
		w.Write(sample.Data)
	}
}

func decodeListAlertsRequest(r *http.Request) (*ListAlertsPayload, error) {
	var (
		payload ListAlertsPayload
		err     error
	)
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil {
			err = goa.MergeErrors(err, goa.InvalidFieldTypeError("limit", raw, "integer"))
		} else {
			payload.Limit = n
		}
	}
	if raw := q.Get("since"); raw != "" {
		t, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			err = goa.MergeErrors(err, goa.InvalidFormatError("since", raw, goa.FormatDateTime, perr))
		} else {
			payload.Since = &t
		}
	}
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func decodeBody(d goahttp.Decoder, v any) error {
	if err := d.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return goa.MissingPayloadError()
		}
		return goa.DecodePayloadError(err.Error())
	}
	return nil
}

func withAccept(r *http.Request) context.Context {
	return context.WithValue(r.Context(), goahttp.AcceptTypeKey, r.Header.Get("Accept"))
}

// respond encodes res with the given status, or the error with the status
// its goa error name maps to
func respond(ctx context.Context, w http.ResponseWriter, status int, res any, err error, enc encoderFunc, eh errorHandlerFunc) {
	// The encoder sets the content type, so it must exist before WriteHeader
	e := enc(ctx, w)
	if err != nil {
		status, body := errorResponse(err)
		w.Header().Set("goa-error", body.Name)
		w.WriteHeader(status)
		if encErr := e.Encode(body); encErr != nil {
			eh(ctx, w, encErr)
		}
		return
	}

	w.WriteHeader(status)
	if encErr := e.Encode(res); encErr != nil {
		eh(ctx, w, encErr)
	}
}

func errorResponse(err error) (int, *ErrorResult) {
	var serr *goa.ServiceError
	if !errors.As(err, &serr) {
		serr = goa.Fault("%s", err)
	}

	body := &ErrorResult{
		Name:      serr.Name,
		ID:        serr.ID,
		Message:   serr.Message,
		Temporary: serr.Temporary,
		Timeout:   serr.Timeout,
		Fault:     serr.Fault,
	}

	switch {
	case serr.Name == "unauthorized":
		return http.StatusUnauthorized, body
	case serr.Name == "conflict":
		return http.StatusConflict, body
	case serr.Name == "unavailable":
		return http.StatusServiceUnavailable, body
	case serr.Fault:
		return http.StatusInternalServerError, body
	default:
		return http.StatusBadRequest, body
	}
}
