package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ipfs/go-cid"

	"xdao.co/escrowsync/dispatch"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/model"
	"xdao.co/escrowsync/session"
)

const defaultMaxUpload = 32 << 20

type Options struct {
	// Evidence serves the /evidence routes. It is usually the same store the
	// session uploads to.
	Evidence       evidence.Store
	Logger         *slog.Logger
	MaxUploadBytes int64
}

type Handler struct {
	session   *session.Session
	evidence  evidence.Store
	log       *slog.Logger
	maxUpload int64
}

func NewHandler(s *session.Session, o Options) *Handler {
	h := &Handler{session: s, evidence: o.Evidence, log: o.Logger, maxUpload: o.MaxUploadBytes}
	if h.log == nil {
		h.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}
	return h
}

func (h *Handler) view() model.SessionView { return model.FromSession(h.session) }

// detach keeps a write going after the client disconnects; the transaction may
// already be on its way to the ledger.
func detach(r *http.Request) context.Context { return context.WithoutCancel(r.Context()) }

func badRequest(msg string, args ...any) error {
	return model.NewError(model.ErrInvalidRequest, fmt.Sprintf(msg, args...))
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid json body: %v", err)
	}
	return nil
}

func (h *Handler) getSession(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.view())
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req model.OpenRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	var addr escrow.Address
	if req.Contract != "" {
		a, err := escrow.ParseAddress(req.Contract)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		addr = a
	}
	if err := h.session.Open(r.Context(), addr); err != nil {
		writeError(w, r, err, h.view())
		return
	}
	writeSuccess(w, http.StatusOK, h.view())
}

func (h *Handler) closeSession(w http.ResponseWriter, _ *http.Request) {
	h.session.Close()
	writeSuccess(w, http.StatusOK, h.view())
}

func (h *Handler) reloadSession(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Reload(r.Context()); err != nil {
		writeError(w, r, err, h.view())
		return
	}
	writeSuccess(w, http.StatusOK, h.view())
}

// respondDispatch reports a finished operation. A confirmed write with a
// stale snapshot still carries the session view.
func (h *Handler) respondDispatch(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeSuccess(w, http.StatusOK, h.view())
		return
	}
	if errors.Is(err, dispatch.ErrStaleSnapshot) {
		writeError(w, r, err, h.view())
		return
	}
	writeError(w, r, err, nil)
}

func (h *Handler) contractAction(w http.ResponseWriter, r *http.Request) {
	op, err := escrow.ParseOperation(chi.URLParam(r, "op"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	ctx := detach(r)
	switch op {
	case escrow.OpFund:
		err = h.session.Fund(ctx)
	case escrow.OpAcceptAssignment:
		err = h.session.AcceptAssignment(ctx)
	case escrow.OpDeclineAssignment:
		err = h.session.DeclineAssignment(ctx)
	default:
		err = badRequest("%s targets a milestone", op)
	}
	h.respondDispatch(w, r, err)
}

func milestoneIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		return 0, badRequest("invalid milestone index %q", chi.URLParam(r, "index"))
	}
	return i, nil
}

func (h *Handler) milestoneAction(w http.ResponseWriter, r *http.Request) {
	i, err := milestoneIndex(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	op, err := escrow.ParseOperation(chi.URLParam(r, "op"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	var req model.ActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	ctx := detach(r)
	switch op {
	case escrow.OpSubmitWork:
		err = h.session.SubmitWork(ctx, i, req.Ref)
	case escrow.OpApproveMilestone:
		err = h.session.ApproveMilestone(ctx, i)
	case escrow.OpRejectMilestone:
		err = h.session.RejectMilestone(ctx, i, req.Reason)
	default:
		err = badRequest("%s is a contract-wide operation", op)
	}
	h.respondDispatch(w, r, err)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	return data, nil
}

// submitEvidence uploads the request body and submits its content id.
func (h *Handler) submitEvidence(w http.ResponseWriter, r *http.Request) {
	i, err := milestoneIndex(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	_, err = h.session.SubmitWorkFile(detach(r), i, data)
	h.respondDispatch(w, r, err)
}

func (h *Handler) createEscrow(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEscrowRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	specs := make([]session.MilestoneSpec, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		specs = append(specs, session.MilestoneSpec{Description: m.Description, Amount: m.Amount})
	}
	addr, err := h.session.CreateEscrow(detach(r), req.Counterparty, specs)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusCreated, model.CreateEscrowResponse{Contract: string(addr)})
}

func (h *Handler) listEscrows(w http.ResponseWriter, r *http.Request) {
	ps, err := h.session.Projects(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, model.FromProjects(ps))
}

func (h *Handler) putEvidence(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	id, err := evidence.Upload(r.Context(), h.evidence, data)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusCreated, model.EvidenceResponse{CID: id.String(), Size: len(data)})
}

func (h *Handler) getEvidence(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeError(w, r, evidence.ErrNoStore, nil)
		return
	}
	id, err := cid.Decode(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", evidence.ErrInvalidCID, err), nil)
		return
	}
	data, err := h.evidence.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
