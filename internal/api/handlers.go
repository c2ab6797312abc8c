package api

import (
	"net/http"
	"strconv"
	"time"

	"nlquery/internal/common/database"
	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/models"
	"nlquery/internal/nlq/pipeline"
)

const defaultHistoryLimit = 20

type mongoConnectResponse struct {
	*pipeline.MongoConnection
	Status string `json:"status"`
}

type queryWorkflow struct {
	CollectionNames     []string        `json:"collection_names"`
	AggregationPipeline models.Pipeline `json:"aggregation_pipeline"`
}

type mongoQueryResponse struct {
	Response      string        `json:"response"`
	QueryWorkflow queryWorkflow `json:"query_workflow"`
	Results       string        `json:"results"`
}

type sqlQueryResponse struct {
	Response         string                    `json:"response"`
	RelevantTables   []models.SchemaDescriptor `json:"relevant_tables"`
	GeneratedQueries []models.SQLPlanEntry     `json:"generated_queries"`
	Results          []models.ExecutionResult  `json:"results"`
}

func (s *Server) handleMongoConnect(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(r, "connection_nickname", "db_url", "db_name")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	conn, err := s.mongo.Connect(r.Context(), form["connection_nickname"], form["db_url"], form["db_name"])
	if err != nil {
		s.logger.Warn("mongo connection failed", map[string]interface{}{
			"db":    database.RedactURL(form["db_url"]),
			"error": err.Error(),
		})
		writeDetail(w, http.StatusBadRequest, "MongoDB connection failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, mongoConnectResponse{MongoConnection: conn, Status: "connected"})
}

func (s *Server) handleMongoQuery(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(r, "connection_nickname", "db_url", "db_name", "question")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	answer, err := s.mongo.Query(r.Context(), pipeline.MongoRequest{
		Nickname: form["connection_nickname"],
		DBURL:    form["db_url"],
		DBName:   form["db_name"],
		Question: form["question"],
	})
	if err != nil {
		stdErr := apperrors.Classify(err)
		s.logger.Warn("mongo query failed", map[string]interface{}{
			"nickname": form["connection_nickname"],
			"code":     string(stdErr.Code),
			"error":    err.Error(),
		})
		// connection problems are reported as 400 by /mongo_pipeline/client only
		writeDetail(w, http.StatusInternalServerError, "MongoDB query failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, mongoQueryResponse{
		Response: answer.Response,
		QueryWorkflow: queryWorkflow{
			CollectionNames:     answer.CollectionNames,
			AggregationPipeline: answer.Pipeline,
		},
		Results: answer.Results,
	})
}

func (s *Server) handleSQLQuery(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(r, "question")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	answer, err := s.sql.Ask(r.Context(), form["question"], r.PostFormValue("connection_nickname"))
	if err != nil {
		stdErr := apperrors.Classify(err)
		writeDetail(w, apperrors.HTTPStatus(stdErr), "SQL query failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sqlQueryResponse{
		Response:         answer.Response,
		RelevantTables:   answer.RelevantTables,
		GeneratedQueries: answer.Queries,
		Results:          answer.Results,
	})
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), r.PathValue("nickname"), limit)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "History lookup failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context(), r.PathValue("nickname")); err != nil {
		writeDetail(w, http.StatusInternalServerError, "History clear failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"checks": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   s.now().Format(time.RFC3339),
	})
}
