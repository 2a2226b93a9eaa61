// Package service exposes the evaluation engine over HTTP. The admin CRUD
// surface lives elsewhere; this service only serves evaluation, assignment,
// config reads and event ingestion.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/togglebox/togglebox/pkg/client"
	"github.com/togglebox/togglebox/pkg/logger"
	"github.com/togglebox/togglebox/pkg/model"
)

// HTTPServiceConfiguration carries the listen settings.
type HTTPServiceConfiguration struct {
	Port int32
}

// HTTPService serves evaluation requests through an orchestration client.
type HTTPService struct {
	HTTPServiceConfiguration *HTTPServiceConfiguration
	log                      *logger.Logger
}

func NewHTTPService(cfg *HTTPServiceConfiguration) *HTTPService {
	return &HTTPService{
		HTTPServiceConfiguration: cfg,
		log:                      logger.New("service"),
	}
}

type evaluateRequest struct {
	Context model.EvaluationContext `json:"context"`
}

type trackConversionRequest struct {
	Context  model.EvaluationContext `json:"context"`
	MetricID string                  `json:"metricId"`
	Value    *float64                `json:"value,omitempty"`
}

type trackEventRequest struct {
	Context   model.EvaluationContext `json:"context"`
	EventName string                  `json:"eventName"`
	Data      map[string]interface{}  `json:"data,omitempty"`
}

// Serve blocks until the context is cancelled or the listener fails.
func (h *HTTPService) Serve(ctx context.Context, c *client.Client) error {
	if h.HTTPServiceConfiguration == nil {
		return errors.New("http service configuration has not been initialised")
	}

	r := chi.NewRouter()
	r.Mount("/", h.Routes(c))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", h.HTTPServiceConfiguration.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// Routes builds the evaluation router; split out for tests.
func (h *HTTPService) Routes(c *client.Client) chi.Router {
	r := chi.NewRouter()

	r.Post("/flags/{flagKey}/evaluate", func(w http.ResponseWriter, req *http.Request) {
		var body evaluateRequest
		_ = json.NewDecoder(req.Body).Decode(&body)

		res, err := c.EvaluateFlag(req.Context(), chi.URLParam(req, "flagKey"), body.Context)
		if err != nil {
			h.handleError(err, w)
			return
		}
		writeJSON(w, res)
	})

	r.Post("/experiments/{experimentKey}/variant", func(w http.ResponseWriter, req *http.Request) {
		var body evaluateRequest
		_ = json.NewDecoder(req.Body).Decode(&body)

		assignment, err := c.GetVariant(req.Context(), chi.URLParam(req, "experimentKey"), body.Context)
		if err != nil {
			h.handleError(err, w)
			return
		}
		writeJSON(w, map[string]interface{}{"assignment": assignment})
	})

	r.Get("/config/{key}", func(w http.ResponseWriter, req *http.Request) {
		value, err := c.GetConfig(req.Context(), chi.URLParam(req, "key"))
		if err != nil {
			h.handleError(err, w)
			return
		}
		writeJSON(w, map[string]interface{}{"key": chi.URLParam(req, "key"), "value": value})
	})

	r.Post("/experiments/{experimentKey}/conversion", func(w http.ResponseWriter, req *http.Request) {
		var body trackConversionRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.TrackConversion(req.Context(), chi.URLParam(req, "experimentKey"),
			body.Context, body.MetricID, body.Value)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/events", func(w http.ResponseWriter, req *http.Request) {
		var body trackEventRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.EventName == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.TrackEvent(body.EventName, body.Context, body.Data)
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

// handleError maps engine error codes to HTTP statuses.
func (h *HTTPService) handleError(err error, w http.ResponseWriter) {
	message := err.Error()
	switch {
	case model.IsNotFound(err):
		w.WriteHeader(http.StatusNotFound)
	case strings.HasPrefix(message, model.TypeMismatchErrorCode),
		strings.HasPrefix(message, model.ParseErrorCode),
		strings.HasPrefix(message, model.ValidationErrorCode):
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	h.log.Error(message)
	writeJSON(w, map[string]string{"errorCode": message})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
