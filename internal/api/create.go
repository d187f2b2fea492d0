package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/skuwata/outreachd/internal/outreach"
)

type createJobRequest struct {
	CompanyIDs      []string `json:"company_ids"`
	PreferredMethod string   `json:"preferred_method"`
	ParallelTasks   int      `json:"parallel_tasks"`
	RetryAttempts   int      `json:"retry_attempts"`
	ErrorThreshold  float64  `json:"error_threshold"`
}

type enqueueCrawlRequest struct {
	CompanyIDs []string `json:"company_ids"`
}

// createJob registers a batch job with one waiting task per company. The job
// is created pending; a separate run call starts it.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if len(req.CompanyIDs) == 0 {
		writeError(w, http.StatusBadRequest, "company_ids required", s.logger)
		return
	}
	method := outreach.SendMethod(req.PreferredMethod)
	if method == "" {
		method = outreach.MethodForm
	}
	if method != outreach.MethodDM && method != outreach.MethodForm {
		writeError(w, http.StatusBadRequest, "preferred_method must be dm or form", s.logger)
		return
	}
	if req.ErrorThreshold < 0 || req.ErrorThreshold > 1 {
		writeError(w, http.StatusBadRequest, "error_threshold must be within [0, 1]", s.logger)
		return
	}

	companies := make([]outreach.Company, 0, len(req.CompanyIDs))
	for _, companyID := range req.CompanyIDs {
		company, err := s.companies.GetCompany(r.Context(), companyID)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown company %s", companyID), s.logger)
			return
		}
		companies = append(companies, company)
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "id generation failed", s.logger)
		return
	}
	now := s.clock.Now()
	job := outreach.BatchJob{
		ID:              jobID,
		Status:          outreach.JobStatusPending,
		TotalTasks:      len(companies),
		PreferredMethod: method,
		ParallelTasks:   req.ParallelTasks,
		RetryAttempts:   req.RetryAttempts,
		ErrorThreshold:  req.ErrorThreshold,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "create job failed", s.logger)
		return
	}

	taskIDs := make([]string, 0, len(companies))
	for _, company := range companies {
		taskID, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "id generation failed", s.logger)
			return
		}
		task := outreach.Task{
			ID:             taskID,
			JobID:          jobID,
			CompanyID:      company.ID,
			CompanyName:    company.Name,
			MainStatus:     outreach.TaskWaiting,
			SubStatus:      outreach.StatusInitial.Sub(),
			DetailedStatus: outreach.StatusInitial,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.tasks.CreateTask(r.Context(), task); err != nil {
			writeError(w, http.StatusInternalServerError, "create task failed", s.logger)
			return
		}
		taskIDs = append(taskIDs, taskID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":      jobID,
		"total_tasks": len(taskIDs),
		"task_ids":    taskIDs,
	}, s.logger)
}

// enqueueCrawl puts one pending crawl queue item per company on the queue.
func (s *Server) enqueueCrawl(w http.ResponseWriter, r *http.Request) {
	var req enqueueCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if len(req.CompanyIDs) == 0 {
		writeError(w, http.StatusBadRequest, "company_ids required", s.logger)
		return
	}

	now := s.clock.Now()
	itemIDs := make([]string, 0, len(req.CompanyIDs))
	for _, companyID := range req.CompanyIDs {
		if _, err := s.companies.GetCompany(r.Context(), companyID); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown company %s", companyID), s.logger)
			return
		}
		itemID, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "id generation failed", s.logger)
			return
		}
		item := outreach.CrawlQueueItem{
			ID:        itemID,
			CompanyID: companyID,
			Status:    outreach.QueuePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.queue.Enqueue(r.Context(), item); err != nil {
			writeError(w, http.StatusInternalServerError, "enqueue failed", s.logger)
			return
		}
		itemIDs = append(itemIDs, itemID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":   len(itemIDs),
		"item_ids": itemIDs,
	}, s.logger)
}
