package api

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/ccip"
	"github.com/imperfect-abs/abshub/internal/security"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// ─── Request Helpers ────────────────────────────────────────────────────────

func addressParam(r *http.Request) (common.Address, error) {
	v := chi.URLParam(r, "address")
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %q", domain.ErrInvalidUser, v)
	}
	return common.HexToAddress(v), nil
}

func queryInt(r *http.Request, key string, def, max int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", domain.ErrInvalidFormat, key, v)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

func page(r *http.Request) (offset, limit int, err error) {
	if offset, err = queryInt(r, "offset", 0, 0); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit", defaultPageSize, maxPageSize); err != nil {
		return 0, 0, err
	}
	return offset, limit, nil
}

// parseWei reads a non-negative decimal wei amount. Empty means zero.
func parseWei(v string) (*big.Int, error) {
	if v == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: value %q", domain.ErrInvalidFormat, v)
	}
	return n, nil
}

// ─── Status ─────────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	participants, err := s.hub.ParticipantCount(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := map[string]interface{}{
		"status":       "ok",
		"version":      s.version,
		"participants": participants,
		"chains":       s.hub.Chains(),
		"subscribers":  s.events.Subscribers(),
	}
	if s.checker != nil {
		if !s.checker.IsHealthy() {
			resp["status"] = "degraded"
		}
		resp["checks"] = s.checker.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Workouts ───────────────────────────────────────────────────────────────

// workoutRequest is the body of POST /api/workouts. Signature is an
// EIP-191 signature over security.WorkoutMessage by User.
type workoutRequest struct {
	User         common.Address `json:"user"`
	Reps         uint64         `json:"reps"`
	FormAccuracy uint64         `json:"form_accuracy"`
	Streak       uint64         `json:"streak"`
	Duration     uint64         `json:"duration"`
	Latitude     int64          `json:"latitude"`
	Longitude    int64          `json:"longitude"`
	Value        string         `json:"value,omitempty"`
	Signature    hexutil.Bytes  `json:"signature,omitempty"`
}

func (s *Server) handleSubmitWorkout(w http.ResponseWriter, r *http.Request) {
	var req workoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}
	value, err := parseWei(req.Value)
	if err != nil {
		writeFailure(w, err)
		return
	}
	sub := domain.Submission{
		User:         req.User,
		Reps:         req.Reps,
		FormAccuracy: req.FormAccuracy,
		Streak:       req.Streak,
		Duration:     req.Duration,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Value:        value,
	}
	if s.requireSignatures || len(req.Signature) > 0 {
		if len(req.Signature) == 0 {
			writeFailure(w, fmt.Errorf("%w: signature required", domain.ErrInvalidSignature))
			return
		}
		if err := security.VerifySigner(security.WorkoutMessage(sub), req.Signature, sub.User); err != nil {
			writeFailure(w, err)
			return
		}
	}

	res, err := s.hub.SubmitWorkoutSession(r.Context(), sub)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	us, err := s.hub.Score(r.Context(), user)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, us)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	offset, limit, err := page(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	sessions, err := s.hub.Sessions(r.Context(), user, offset, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.WorkoutSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeFailure(w, fmt.Errorf("%w: session index", domain.ErrInvalidFormat))
		return
	}
	ws, err := s.hub.Session(r.Context(), user, index)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleCrossChain(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	data, err := s.hub.CrossChain(r.Context(), user)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleUserRewards(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	reward, err := s.rewards.Pending(r.Context(), user)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (s *Server) handleBridgeState(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	st, err := s.bridge.State(r.Context(), user)
	if err != nil {
		writeFailure(w, err)
		return
	}
	msgs, err := s.bridge.Messages(r.Context(), user, 20)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.BridgeReceipt{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": st, "messages": msgs})
}

// ─── Leaderboard ────────────────────────────────────────────────────────────

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := page(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	entries, err := s.hub.Leaderboard(r.Context(), offset, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	total, err := s.hub.ParticipantCount(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"total": total, "entries": entries})
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "n", 10, maxPageSize)
	if err != nil {
		writeFailure(w, err)
		return
	}
	entries, err := s.hub.Top(r.Context(), n)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ─── Rewards ────────────────────────────────────────────────────────────────

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	pool, err := s.rewards.Pool(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	history, err := s.rewards.History(r.Context(), 10)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if history == nil {
		history = []domain.Distribution{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"config":        s.rewards.Config(),
		"pool":          pool,
		"distributions": history,
	})
}

// ─── Cross-Chain ────────────────────────────────────────────────────────────

// maxRelayBody bounds a relayed message; score payloads are 64 bytes.
const maxRelayBody = 64 << 10

func (s *Server) handleCCIPReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRelayBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "read message: "+err.Error())
		return
	}
	if err := s.verifyRelay(body, r.Header.Get(ccip.SignatureHeader)); err != nil {
		writeFailure(w, err)
		return
	}
	var msg domain.CCIPMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid message: "+err.Error())
		return
	}
	if err := s.hub.CCIPReceive(r.Context(), msg); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "message_id": msg.MessageID.Hex()})
}

// verifyRelay checks that body was signed by a configured relay key.
func (s *Server) verifyRelay(body []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidSignature, ccip.SignatureHeader)
	}
	sig, err := hexutil.Decode(header)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	signer, err := security.RecoverSigner(body, sig)
	if err != nil {
		return err
	}
	if !s.relaySigners[signer] {
		return fmt.Errorf("%w: relay %s", domain.ErrUnauthorizedSender, signer.Hex())
	}
	return nil
}
