package api

import (
	"net/http"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	store "github.com/ramxx/tminus/internal/store/domain"

	govapp "github.com/ramxx/tminus/internal/governance/application"
)

func (s *Server) handleCreateVipPolicy(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		Email          string              `json:"email"`
		DisplayName    string              `json:"display_name"`
		PriorityWeight float64             `json:"priority_weight"`
		Conditions     store.VipConditions `json:"conditions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	policy, err := store.NewVipPolicy(principal.UserID, body.Email, body.DisplayName, body.PriorityWeight, body.Conditions)
	if err != nil {
		writeError(w, s.logger, shared.Wrap(shared.KindInvalidArgument, "invalid_vip_policy", err))
		return
	}

	if err := s.store.CreateVipPolicy(r.Context(), policy); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, policy)
}

func (s *Server) handleListVipPolicies(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	policies, err := s.store.ListVipPolicies(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, policies)
}

func (s *Server) handleDeleteVipPolicy(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	id := shared.ID(r.PathValue("id"))

	if err := s.store.DeleteVipPolicy(r.Context(), principal.UserID, id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleCreateCommitment(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		ClientID           string  `json:"client_id"`
		ClientName         string  `json:"client_name"`
		TargetHours        float64 `json:"target_hours"`
		WindowType         string  `json:"window_type"`
		RollingWindowWeeks int     `json:"rolling_window_weeks"`
		HardMinimum        bool    `json:"hard_minimum"`
		ProofRequired      bool    `json:"proof_required"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	commitment, err := store.NewCommitment(principal.UserID, body.ClientID, body.ClientName, body.TargetHours, store.WindowType(body.WindowType), body.RollingWindowWeeks, body.HardMinimum, body.ProofRequired)
	if err != nil {
		writeError(w, s.logger, shared.Wrap(shared.KindInvalidArgument, "invalid_commitment", err))
		return
	}

	if err := s.store.CreateCommitment(r.Context(), commitment); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, commitment)
}

func (s *Server) handleListCommitments(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	commitments, err := s.store.ListCommitments(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, commitments)
}

func (s *Server) handleCommitmentStatus(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	id := shared.ID(r.PathValue("id"))

	status, err := s.governance.GetCommitmentStatus(r.Context(), principal.UserID, id, time.Now().UTC())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (s *Server) handleDeleteCommitment(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	id := shared.ID(r.PathValue("id"))

	if err := s.store.DeleteCommitment(r.Context(), principal.UserID, id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleExportProof(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	id := shared.ID(r.PathValue("id"))

	var body struct {
		Format string `json:"format"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	result, err := s.governance.ExportProof(r.Context(), principal.UserID, id, govapp.ProofFormat(body.Format), time.Now().UTC())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleDownloadProof(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	key := r.PathValue("key")

	download, err := s.governance.DownloadProof(r.Context(), principal.UserID, key)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", download.ContentType)
	if download.ProofHash != "" {
		w.Header().Set("X-Proof-Hash", download.ProofHash)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(download.Data)
}
