// Package api exposes the kernel's components over HTTP: entry append and
// read, the tail subscription as Server-Sent Events, and the permit,
// command, and receipt endpoints of the risk-tiered pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/authz"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/ledger"
	"github.com/Mindburn-Labs/helm/core/pkg/membrane"
	"github.com/Mindburn-Labs/helm/core/pkg/notify"
	"github.com/Mindburn-Labs/helm/core/pkg/permit"
	"github.com/Mindburn-Labs/helm/core/pkg/tail"
)

// KernelService wires the append engine, read API, tail subscriber, and
// permit pipeline behind a single set of HTTP handlers.
type KernelService struct {
	Engine   *ledger.Engine
	Reads    *ledger.ReadAPI
	Bus      notify.Bus
	Tail     *tail.Subscriber
	Issuer   *permit.Issuer
	Dispatch *permit.Dispatch
	Receipts *permit.Receipts
}

// writeKernelError maps a KernelError to its RFC 7807 status; any other
// error is treated as internal.
func writeKernelError(w http.ResponseWriter, r *http.Request, err error) {
	var kerr *contracts.KernelError
	if errors.As(err, &kerr) {
		WriteErrorR(w, r, kerr.HTTPStatus(), string(kerr.Code), kerr.Reason)
		return
	}
	WriteInternal(w, err)
}

// AppendRequest is the wire format for submitting a link. An agent sends
// its full contracts.ASC in the body; without an ASC, the handler builds an
// authz.Session from SubjectID and the step-up fields. Neither is looked up
// from a server-side store.
type AppendRequest struct {
	Link           contracts.Link `json:"link"`
	SubjectID      string         `json:"subject_id"`
	ASC            *contracts.ASC `json:"asc,omitempty"`
	BindingHash    string         `json:"binding_hash,omitempty"`
	StepUpVerified bool           `json:"step_up_verified,omitempty"`
	StepUpTTL      int64          `json:"step_up_ttl_seconds,omitempty"`
}

// HandleAppend handles POST /v1/entries.
func (s *KernelService) HandleAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	authCtx := membrane.AuthContext{ASC: req.ASC, BindingHash: req.BindingHash}
	if req.ASC == nil {
		session := &authz.Session{SubjectID: req.SubjectID}
		if req.StepUpVerified {
			session.StepUp = &authz.StepUpBinding{
				BindingHash: req.BindingHash,
				VerifiedAt:  time.Now(),
				TTL:         time.Duration(req.StepUpTTL) * time.Second,
			}
		}
		authCtx.Session = session
	}

	entry, err := s.Engine.Append(r.Context(), &req.Link, authCtx)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}

	if s.Bus != nil {
		ref := notify.Reference{ContainerID: entry.ContainerID, Sequence: entry.Sequence}
		if pubErr := s.Bus.Publish(r.Context(), ref); pubErr != nil {
			writeKernelError(w, r, fmt.Errorf("entry committed but notify publish failed: %w", pubErr))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}

// HandleEntry handles GET /v1/containers/{container_id}/entries/{sequence}.
func (s *KernelService) HandleEntry(w http.ResponseWriter, r *http.Request, containerID string, sequence uint64) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	entry, err := s.Reads.Entry(r.Context(), containerID, sequence)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}

// HandleSince handles GET /v1/containers/{container_id}/entries?since=N&limit=N.
func (s *KernelService) HandleSince(w http.ResponseWriter, r *http.Request, containerID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = tail.DefaultReplayWindow
	}
	entries, err := s.Reads.Since(r.Context(), containerID, since, limit)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// HandleTailStream handles GET /v1/containers/{container_id}/tail?since=N
// as Server-Sent Events, one JSON-encoded tail.Event per "data:" line.
func (s *KernelService) HandleTailStream(w http.ResponseWriter, r *http.Request, containerID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Internal Server Error", "streaming unsupported")
		return
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.Tail.Stream(ctx, tail.Cursor{ContainerID: containerID, SinceSequence: since})
	if err != nil {
		writeKernelError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", tailEventName(ev.Kind), payload)
		flusher.Flush()
	}
}

func tailEventName(kind tail.EventKind) string {
	switch kind {
	case tail.EventEntry:
		return "entry"
	case tail.EventKeepAlive:
		return "keep-alive"
	default:
		return "error"
	}
}

// IssuePermitRequest is the wire format for POST /v1/permits.
type IssuePermitRequest struct {
	TenantID       string         `json:"tenant_id"`
	ActorID        string         `json:"actor_id"`
	JobType        string         `json:"job_type"`
	Target         string         `json:"target"`
	Args           map[string]any `json:"args"`
	Subject        contracts.Subject `json:"subject"`
	PolicySnapshot any            `json:"policy_snapshot,omitempty"`
}

// HandleIssuePermit handles POST /v1/permits.
func (s *KernelService) HandleIssuePermit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req IssuePermitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	p, err := s.Issuer.Issue(r.Context(), permit.IssueRequest{
		TenantID:       req.TenantID,
		ActorID:        req.ActorID,
		JobType:        req.JobType,
		Target:         req.Target,
		Args:           req.Args,
		Subject:        req.Subject,
		PolicySnapshot: req.PolicySnapshot,
	})
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

// ApprovePermitRequest is the wire format for POST /v1/permits/{jti}/approve.
type ApprovePermitRequest struct {
	ApprovalRef string `json:"approval_ref"`
}

// HandleApprovePermit handles POST /v1/permits/{jti}/approve.
func (s *KernelService) HandleApprovePermit(w http.ResponseWriter, r *http.Request, jti string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ApprovePermitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.ApprovalRef == "" {
		WriteBadRequest(w, "approval_ref is required")
		return
	}
	if err := s.Issuer.Approve(r.Context(), jti, req.ApprovalRef); err != nil {
		writeKernelError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "approved", "jti": jti})
}

// CreateCommandRequest is the wire format for POST /v1/commands.
type CreateCommandRequest struct {
	PermitJTI string         `json:"permit_jti"`
	JobID     string         `json:"job_id"`
	Params    map[string]any `json:"params"`
}

// HandleCreateCommand handles POST /v1/commands.
func (s *KernelService) HandleCreateCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	cmd, err := s.Dispatch.CreateCommand(r.Context(), req.PermitJTI, req.JobID, req.Params)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cmd)
}

// HandleClaimCommand handles POST /v1/commands/claim?target=X.
func (s *KernelService) HandleClaimCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		WriteBadRequest(w, "target query parameter is required")
		return
	}
	cmd, err := s.Dispatch.Claim(r.Context(), target)
	if err != nil {
		if errors.Is(err, permit.ErrNotFound) {
			WriteNotFound(w, "no pending command for target")
			return
		}
		writeKernelError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cmd)
}

// HandleSubmitReceipt handles POST /v1/receipts?command_jti=X.
func (s *KernelService) HandleSubmitReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	commandJTI := r.URL.Query().Get("command_jti")
	if commandJTI == "" {
		WriteBadRequest(w, "command_jti query parameter is required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var sr permit.SignedReceipt
	if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	receipt, err := s.Receipts.Submit(r.Context(), commandJTI, sr)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(receipt)
}
