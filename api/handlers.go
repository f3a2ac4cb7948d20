package api

import (
	"io"
	"net/http"
	"time"

	"sentinel/detect"
	"sentinel/ingest"
	"sentinel/metrics"
	"sentinel/service"

	"github.com/gorilla/mux"
)

type noteRequest struct {
	Text string `json:"text"`
}

type artifactRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ingestResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

type alertSummary struct {
	Alerts         service.AlertCounts `json:"alerts"`
	EventsBuffered int                 `json:"events_buffered"`
	BufferCapacity int                 `json:"buffer_capacity"`
	Rules          int                 `json:"rules"`
}

type healthResponse struct {
	Status         string `json:"status"`
	EventsBuffered int    `json:"events_buffered"`
	WebSocket      int    `json:"websocket_clients"`
}

// postEvent accepts one JSON process event and runs detection on it
func (a *API) postEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.MaxBodyBytes))
	if err != nil {
		metrics.EventsRejected.WithLabelValues("too_large").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
		return
	}

	event, err := ingest.ParseProcessEvent(body, time.Now())
	if err != nil {
		metrics.EventsRejected.WithLabelValues("validation").Inc()
		a.writeDomainError(w, err)
		return
	}

	if err := a.detector.Ingest(r.Context(), event); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, ingestResponse{Status: "accepted", EventID: event.ID}, http.StatusAccepted)
}

// getEvents returns the buffered events, most recent first
func (a *API) getEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query(), 0)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	events := a.detector.ListEvents()
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	a.respondJSON(w, events, http.StatusOK)
}

// getAlerts returns alerts, most recent first, narrowed by query filters
func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseAlertFilters(r)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, a.cases.FilterAlerts(filters), http.StatusOK)
}

func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.cases.GetAlert(mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

// acknowledgeAlert moves a NEW alert to ACK and returns the alert.
// Acknowledging an already acknowledged alert is not an error.
func (a *API) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.cases.GetAlert(id); err != nil {
		a.writeDomainError(w, err)
		return
	}
	if err := a.cases.AcknowledgeAlert(r.Context(), id); err != nil {
		a.writeDomainError(w, err)
		return
	}
	alert, err := a.cases.GetAlert(id)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

func (a *API) getAlertSummary(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, alertSummary{
		Alerts:         a.cases.AlertCounts(),
		EventsBuffered: a.detector.BufferSize(),
		BufferCapacity: a.detector.Capacity(),
		Rules:          len(a.detector.Rules()),
	}, http.StatusOK)
}

func (a *API) getNotes(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, a.cases.ListNotes(), http.StatusOK)
}

func (a *API) createNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	note, err := a.cases.AddNote(r.Context(), req.Text)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, note, http.StatusCreated)
}

func (a *API) getArtifacts(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, a.cases.ListArtifacts(), http.StatusOK)
}

func (a *API) createArtifact(w http.ResponseWriter, r *http.Request) {
	var req artifactRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	artifact, err := a.cases.AddArtifact(r.Context(), req.Name, req.Type)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, artifact, http.StatusCreated)
}

func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	rules := a.detector.Rules()
	if rules == nil {
		rules = []detect.RuleInfo{}
	}
	a.respondJSON(w, rules, http.StatusOK)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		EventsBuffered: a.detector.BufferSize(),
	}
	if a.hub != nil {
		resp.WebSocket = a.hub.ClientCount()
	}
	a.respondJSON(w, resp, http.StatusOK)
}
