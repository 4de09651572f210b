package linekit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

const defaultHTTPAddr = ":8000"
const defaultHTTPTimeoutMs = 10000
const httpShutdownTimeout = 5 * time.Second

// StartHTTP serves the pin control API until ctx is cancelled.
func (kit *LineKit) StartHTTP(ctx context.Context) error {
	addr := kit.HTTPAddr
	if len(addr) == 0 {
		addr = defaultHTTPAddr
	}

	timeoutMs := kit.HTTPTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultHTTPTimeoutMs
	}
	httpTimeout := time.Duration(timeoutMs) * time.Millisecond
	server := &http.Server{
		Addr:              addr,
		Handler:           kit.router(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			kit.logger.Warn("http server shutdown failed", "err", err)
		}
	}()

	kit.logger.Info("http api listening", "addr", addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return errors.Wrap(err, "http server failed")
}

func (kit *LineKit) router() *httprouter.Router {
	router := httprouter.New()
	router.GET("/", kit.handleRoot)
	router.GET("/health", kit.handleHealth)
	router.GET("/pins", kit.handleGetPins)
	router.PUT("/pins", kit.handleUpdatePins)
	router.GET("/pins/status", kit.handlePinStatus)
	router.POST("/pins/set", kit.handleSetPin)
	router.POST("/pins/toggle/:pin_num", kit.handleTogglePin)
	router.POST("/pins/all/low", kit.handleAllLow)
	router.POST("/pins/all/high", kit.handleAllHigh)
	router.GET("/events", kit.handleEvents)
	router.GET("/stats/history", kit.handleStatsHistory)

	return router
}

func (kit *LineKit) handleRoot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     fmt.Sprintf("%s is running", kit.name()),
		"active_pins": kit.ActivePins(),
	})
}

func (kit *LineKit) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, kit.Health())
}

func (kit *LineKit) handleGetPins(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, kit.CurrentDocument())
}

func (kit *LineKit) handleUpdatePins(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	doc := &PinDocument{}
	err := json.NewDecoder(r.Body).Decode(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed pin document: %v", err))
		return
	}

	err = kit.UpdateDocument(r.Context(), doc)
	validationErr := &ValidationError{}
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, validationErr.Detail)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"claimed": kit.ClaimedCount(),
	})
}

func (kit *LineKit) handlePinStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, kit.PinStatuses())
}

func (kit *LineKit) handleSetPin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body := setCommand{}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if body.PinNum == nil || body.State == nil {
		writeError(w, http.StatusBadRequest, "pin_num and state are required")
		return
	}
	if *body.State != 0 && *body.State != 1 {
		writeError(w, http.StatusBadRequest, "state must be 0 or 1")
		return
	}

	err = kit.SetPin(*body.PinNum, *body.State)
	if err != nil {
		writePinError(w, *body.PinNum, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pin_num": *body.PinNum,
		"state":   *body.State,
		"status":  "success",
	})
}

func (kit *LineKit) handleTogglePin(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	pin, err := strconv.Atoi(p.ByName("pin_num"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid pin number %q", p.ByName("pin_num")))
		return
	}

	state, err := kit.TogglePin(pin)
	if err != nil {
		writePinError(w, pin, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pin_num": pin,
		"state":   state,
		"status":  "toggled",
	})
}

func (kit *LineKit) handleAllLow(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"set_low": kit.SetAll(0),
	})
}

func (kit *LineKit) handleAllHigh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"set_high": kit.SetAll(1),
	})
}

func (kit *LineKit) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	events := kit.DrainEvents()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":  events,
		"dropped": kit.queue.Dropped(),
	})
}

func (kit *LineKit) handleStatsHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"samples": kit.SampleSnapshot(),
	})
}

// writePinError maps core pin errors onto the API status codes: unknown pin
// is 404, configured but inactive or failing hardware is 500.
func writePinError(w http.ResponseWriter, pin int, err error) {
	switch {
	case errors.Is(err, ErrNotConfigured):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Pin %d not configured.", pin))
	case errors.Is(err, ErrNotActive):
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Pin %d not requested/active.", pin))
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
