package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/subscription"
	"github.com/maxpert/livefeed/telemetry"
	"github.com/maxpert/livefeed/wire"
	"github.com/rs/zerolog/log"
)

// graphqlHandler answers request-response operations and hands websocket
// upgrades on the same path to the subscription manager.
type graphqlHandler struct {
	ex       *executor.Executor
	schema   *graphql.Schema
	streams  *subscription.Manager
	maxBytes int64
}

func (h *graphqlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if subscription.IsUpgrade(r) {
		h.streams.ServeHTTP(w, r)
		return
	}

	req, err := h.decode(r)
	if err != nil {
		h.reply(w, http.StatusBadRequest, graphql.ErrorPayload(err))
		return
	}

	p, err := h.schema.Prepare(req)
	if err != nil {
		h.reply(w, http.StatusBadRequest, graphql.ErrorPayload(err))
		return
	}

	switch {
	case p.Kind == wire.KindLive:
		h.reply(w, http.StatusBadRequest, graphql.ErrorPayload(
			errs.New(errs.CodeBadRequest, p.Name, errors.New("subscriptions require a websocket connection"))))
		return
	case p.Kind == wire.KindWrite && r.Method != http.MethodPost:
		w.Header().Set("Allow", http.MethodPost)
		h.reply(w, http.StatusMethodNotAllowed, graphql.ErrorPayload(
			errs.New(errs.CodeBadRequest, p.Name, errors.New("mutations require POST"))))
		return
	}

	h.reply(w, http.StatusOK, p.Execute(r.Context(), h.ex))
}

// decode reads a request from a JSON POST body or GET query parameters.
func (h *graphqlHandler) decode(r *http.Request) (wire.Request, error) {
	var req wire.Request

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return req, badRequest("variables must be a JSON object: %v", err)
			}
		}
		return req, nil
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return req, badRequest("unsupported content type %q", ct)
		}
	}

	body := io.Reader(r.Body)
	if h.maxBytes > 0 {
		body = io.LimitReader(r.Body, h.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return req, badRequest("failed to read body: %v", err)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return req, badRequest("request body exceeds %d bytes", h.maxBytes)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, badRequest("request body must be a JSON object: %v", err)
	}
	return req, nil
}

func (h *graphqlHandler) reply(w http.ResponseWriter, status int, payload wire.Payload) {
	telemetry.HTTPRequestsTotal.With(strconv.Itoa(status/100) + "xx").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func badRequest(format string, args ...interface{}) error {
	return errs.New(errs.CodeBadRequest, "", fmt.Errorf(format, args...))
}
