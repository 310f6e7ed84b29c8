package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"arenaserver/internal/arena"
	"arenaserver/internal/lifecycle"
	"arenaserver/internal/metrics"
	"arenaserver/internal/store"
)

// errBadRequest marks a request body or parameter that could not be parsed.
var errBadRequest = eris.New("malformed request")

type Server struct {
	ctrl    *lifecycle.Controller
	store   store.Store
	clock   clockwork.Clock
	metrics *metrics.Metrics
	log     zerolog.Logger
	router  *mux.Router
}

func New(ctrl *lifecycle.Controller, st store.Store, clock clockwork.Clock, m *metrics.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		ctrl:    ctrl,
		store:   st,
		clock:   clock,
		metrics: m,
		log:     log.With().Str("component", "http").Logger(),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().Str("method", r.Method).Str("url", r.URL.String()).
			Int("status", status).Dur("duration", duration).Msg("request")
	}))

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/arenas", s.listArenas).Methods(http.MethodGet)
	r.HandleFunc("/arenas", s.createArena).Methods(http.MethodPost)
	r.HandleFunc("/arenas/{id:[0-9]+}", s.getArena).Methods(http.MethodGet)
	r.HandleFunc("/arenas/{id:[0-9]+}", s.deleteArena).Methods(http.MethodDelete)
	r.HandleFunc("/arenas/{id:[0-9]+}/classes", s.createClass).Methods(http.MethodPost)
	r.HandleFunc("/arenas/{id:[0-9]+}/event-types", s.createEventType).Methods(http.MethodPost)
	r.HandleFunc("/arenas/{id:[0-9]+}/events", s.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/arenas/{id:[0-9]+}/events", s.scheduleEvent).Methods(http.MethodPost)
	r.HandleFunc("/arenas/{id:[0-9]+}/ratings", s.listRatings).Methods(http.MethodGet)
	r.HandleFunc("/arenas/{id:[0-9]+}/finance", s.listFinance).Methods(http.MethodGet)

	r.HandleFunc("/event-types/{id:[0-9]+}", s.updateEventType).Methods(http.MethodPut)
	r.HandleFunc("/event-types/{id:[0-9]+}/events", s.createFromType).Methods(http.MethodPost)

	ev := r.PathPrefix("/events/{id:[0-9]+}").Subrouter()
	ev.HandleFunc("", s.getEvent).Methods(http.MethodGet)
	ev.HandleFunc("/quote", s.quote).Methods(http.MethodGet)
	ev.HandleFunc("/reservations", s.reserve).Methods(http.MethodPost)
	ev.HandleFunc("/reservations/{rid}/claim", s.claim).Methods(http.MethodPost)
	ev.HandleFunc("/reservations/{rid}", s.releaseReservation).Methods(http.MethodDelete)
	ev.HandleFunc("/signups", s.signup).Methods(http.MethodPost)
	ev.HandleFunc("/signups/{sid:[0-9]+}", s.withdraw).Methods(http.MethodDelete)
	ev.HandleFunc("/bets", s.placeBet).Methods(http.MethodPost)
	ev.HandleFunc("/bets/{bid:[0-9]+}", s.cancelBet).Methods(http.MethodDelete)
	ev.HandleFunc("/payouts/{pid:[0-9]+}/collect", s.collectPayout).Methods(http.MethodPost)
	ev.HandleFunc("/eliminations", s.recordElimination).Methods(http.MethodPost)
	ev.HandleFunc("/resolve", s.resolve).Methods(http.MethodPost)
	ev.HandleFunc("/abort", s.abort).Methods(http.MethodPost)
	ev.HandleFunc("/resume", s.resume).Methods(http.MethodPost)
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("server is listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return eris.Wrap(err, "http server")
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// status maps an error onto the response code. State conflicts are 409,
// other rejected input is 422.
func status(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, arena.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, arena.ErrWrongState), errors.Is(err, arena.ErrIllegalTransition),
		errors.Is(err, arena.ErrCapacityExceeded), errors.Is(err, arena.ErrAlreadySignedUp),
		errors.Is(err, arena.ErrBettingClosed), errors.Is(err, arena.ErrCancellationClosed),
		errors.Is(err, arena.ErrAlreadyEliminated), errors.Is(err, arena.ErrPayoutCollected),
		errors.Is(err, arena.ErrSettlementHalted), errors.Is(err, arena.ErrArenaDeleted):
		return http.StatusConflict
	case arena.IsValidation(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("url", r.URL.Path).Msg("request failed")
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return eris.Wrapf(errBadRequest, "decode body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	if err != nil {
		return 0, eris.Wrapf(errBadRequest, "%s: %v", key, err)
	}
	return id, nil
}

func muxVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

func queryID(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(errBadRequest, "%s: %v", key, err)
	}
	return id, nil
}
