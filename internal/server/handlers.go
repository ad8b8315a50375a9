package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/mathbuddy/internal/analysis"
	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/identity"
	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/store"
)

const (
	maxNicknameRunes  = 32
	maxAvatarRefRunes = 512
	// multipartOverhead is the allowance for form boundaries and headers on
	// top of the image size limit.
	multipartOverhead = 64 << 10
)

func ownerOf(c *gin.Context) string {
	p, _ := identity.PrincipalFrom(c.Request.Context())
	return p.UserID
}

type resolveRequest struct {
	Credential string `json:"credential" binding:"required"`
}

type resolveResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

func (s *Server) resolveIdentity(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Credential) == "" {
		badRequest(c, s.log, "credential is required")
		return
	}
	userID, err := s.deps.Resolver.Resolve(c.Request.Context(), req.Credential)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	token, err := s.deps.Tokens.Issue(userID)
	if err != nil {
		respondError(c, s.log, apperr.Internal("issue token", err))
		return
	}
	respondOK(c, resolveResponse{UserID: userID, Token: token})
}

func (s *Server) analyzeProblem(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.cfg.MaxImageBytes+multipartOverhead))
	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, s.log, "image is larger than %d bytes", s.cfg.MaxImageBytes)
			return
		}
		badRequest(c, s.log, "multipart field image is required")
		return
	}
	if fh.Size > int64(s.cfg.MaxImageBytes) {
		badRequest(c, s.log, "image is larger than %d bytes", s.cfg.MaxImageBytes)
		return
	}

	f, err := fh.Open()
	if err != nil {
		badRequest(c, s.log, "unreadable image")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, s.log, "unreadable image")
		return
	}

	res, err := s.deps.Analysis.Analyze(c.Request.Context(), ownerOf(c), analysis.Image{
		Data:     data,
		MimeType: fh.Header.Get("Content-Type"),
	})
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, res)
}

type createSessionRequest struct {
	ID          string                `json:"id"`
	ProblemText string                `json:"problem_text"`
	Analysis    store.ProblemAnalysis `json:"analysis"`
	ImageRef    string                `json:"image_ref"`
}

type createSessionResponse struct {
	Session  *store.Session `json:"session"`
	Question string         `json:"question"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, s.log, "invalid request body")
		return
	}
	ctx := c.Request.Context()
	owner := ownerOf(c)

	sess, err := s.deps.Sessions.Create(ctx, owner, session.CreateInput{
		ID:          req.ID,
		ProblemText: req.ProblemText,
		Analysis:    req.Analysis,
		ImageRef:    req.ImageRef,
	})
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	resp := createSessionResponse{Session: sess}
	if sess.Status == store.StatusActive {
		q, err := s.deps.Dialogue.Open(ctx, sess.ID, owner)
		if err != nil {
			respondError(c, s.log, err)
			return
		}
		resp.Question = q
		if sess, err = s.deps.Sessions.Get(ctx, sess.ID, owner); err != nil {
			respondError(c, s.log, err)
			return
		}
		resp.Session = sess
	}
	respondOK(c, resp)
}

func (s *Server) listSessions(c *gin.Context) {
	var (
		q   session.ListQuery
		err error
	)
	if q.Page, err = intQuery(c, "page"); err != nil {
		badRequest(c, s.log, "page must be a number")
		return
	}
	if q.PageSize, err = intQuery(c, "page_size"); err != nil {
		badRequest(c, s.log, "page_size must be a number")
		return
	}
	q.Status = store.SessionStatus(c.Query("status"))
	if q.From, err = timeQuery(c, "from", false); err != nil {
		badRequest(c, s.log, "from must be a date or RFC 3339 time")
		return
	}
	if q.To, err = timeQuery(c, "to", true); err != nil {
		badRequest(c, s.log, "to must be a date or RFC 3339 time")
		return
	}

	page, err := s.deps.Sessions.List(c.Request.Context(), ownerOf(c), q)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, page)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.deps.Sessions.Get(c.Request.Context(), c.Param("id"), ownerOf(c))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, sess)
}

type answerRequest struct {
	Answer        string `json:"answer"`
	ExpectedRound int    `json:"expected_round"`
}

func (s *Server) submitAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, s.log, "invalid request body")
		return
	}
	res, err := s.deps.Dialogue.SubmitAnswer(c.Request.Context(), c.Param("id"), ownerOf(c), req.Answer, req.ExpectedRound)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, res)
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) abandonSession(c *gin.Context) {
	var req abandonRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, s.log, "invalid request body")
			return
		}
	}
	sess, err := s.deps.Sessions.Abandon(c.Request.Context(), c.Param("id"), ownerOf(c), req.Reason)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, sess)
}

func (s *Server) getReport(c *gin.Context) {
	rep, err := s.deps.Reports.GenerateOrGet(c.Request.Context(), c.Param("id"), ownerOf(c))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, rep)
}

func (s *Server) getStats(c *gin.Context) {
	st, err := s.deps.Stats.Get(c.Request.Context(), ownerOf(c))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, st)
}

func (s *Server) recomputeStats(c *gin.Context) {
	st, err := s.deps.Stats.Recompute(c.Request.Context(), ownerOf(c))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, st)
}

func (s *Server) getHistory(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		badRequest(c, s.log, "limit must be a number")
		return
	}
	entries, err := s.deps.Sessions.History(c.Request.Context(), ownerOf(c), limit)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	respondOK(c, gin.H{"items": entries})
}

func (s *Server) getProfile(c *gin.Context) {
	owner := ownerOf(c)
	user, err := s.deps.Users.Get(c.Request.Context(), owner)
	if errors.Is(err, store.ErrNotFound) {
		respondOK(c, store.User{ID: owner, Settings: map[string]any{}})
		return
	}
	if err != nil {
		respondError(c, s.log, apperr.Internal("get user", err))
		return
	}
	respondOK(c, user)
}

type profileRequest struct {
	Nickname  *string        `json:"nickname"`
	AvatarRef *string        `json:"avatar_ref"`
	Settings  map[string]any `json:"settings"`
}

func (s *Server) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, s.log, "invalid request body")
		return
	}
	patch, err := req.patch()
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	user, err := s.deps.Users.UpdateProfile(c.Request.Context(), ownerOf(c), patch, time.Now())
	if err != nil {
		respondError(c, s.log, apperr.Internal("update profile", err))
		return
	}
	respondOK(c, user)
}

func (r profileRequest) patch() (store.ProfilePatch, error) {
	if r.Nickname == nil && r.AvatarRef == nil && r.Settings == nil {
		return store.ProfilePatch{}, apperr.Validation("nothing to update")
	}
	p := store.ProfilePatch{Settings: r.Settings}
	if r.Nickname != nil {
		nick := strings.TrimSpace(*r.Nickname)
		if nick == "" || utf8.RuneCountInString(nick) > maxNicknameRunes {
			return p, apperr.Validation("nickname must be 1 to %d characters", maxNicknameRunes)
		}
		p.Nickname = &nick
	}
	if r.AvatarRef != nil {
		ref := strings.TrimSpace(*r.AvatarRef)
		if utf8.RuneCountInString(ref) > maxAvatarRefRunes {
			return p, apperr.Validation("avatar_ref is longer than %d characters", maxAvatarRefRunes)
		}
		p.AvatarRef = &ref
	}
	return p, nil
}

type eventsRequest struct {
	Events []behavior.ClientEvent `json:"events"`
}

func (s *Server) ingestEvents(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
	var req eventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, s.log, "invalid request body")
		return
	}
	n, err := s.deps.Events.Ingest(c.Request.Context(), ownerOf(c), req.Events)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": n})
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// timeQuery accepts RFC 3339 or a bare date. A bare "to" date covers the
// whole day.
func timeQuery(c *gin.Context, key string, endOfDay bool) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
