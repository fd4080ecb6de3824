package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"pdf-qa/internal/helper"
	"pdf-qa/internal/models"
)

const snippetRunes = 300

// Service is the part of the agent the web front end drives.
type Service interface {
	Ingest(ctx context.Context, path string, progress func(done, total int)) (int, error)
	Answer(ctx context.Context, input string, topK int) (models.AnswerResult, error)
	History() []models.HistoryEntry
	Ready() bool
	Source() string
}

type Config struct {
	Addr      string
	UploadDir string
	TopK      int
}

// Progress is the state of the most recent upload.
type Progress struct {
	Status string `json:"status"`
	File   string `json:"file,omitempty"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

type Server struct {
	cfg     Config
	service Service
	router  *gin.Engine
	md      goldmark.Markdown

	mu       sync.Mutex
	progress Progress
	wg       sync.WaitGroup

	// ctx bounds background ingests and is canceled on shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg Config, service Service) (*Server, error) {
	if err := helper.CreateFolder(cfg.UploadDir); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		service:  service,
		progress: Progress{Status: StatusIdle},
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())
	router.SetHTMLTemplate(template.Must(template.New("index").Parse(indexTemplate)))

	router.GET("/", s.index)
	router.POST("/upload", s.upload)
	router.POST("/ask", s.askForm)

	api := router.Group("/api")
	api.GET("/progress", s.getProgress)
	api.POST("/ask", s.askJSON)
	api.GET("/history", s.history)

	s.router = router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Web UI listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Stop cancels any background ingest and waits for it to return.
func (s *Server) Stop() {
	s.cancel()
	s.wg.Wait()
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	}
}

// upload stores the file and ingests it in the background; progress is
// polled through /api/progress.
func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a file field is required"})
		return
	}

	name := filepath.Base(file.Filename)
	dst := filepath.Join(s.cfg.UploadDir, name)

	s.mu.Lock()
	if s.progress.Status == StatusProcessing {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": models.ErrBusy.Error()})
		return
	}
	prev := s.progress
	s.progress = Progress{Status: StatusProcessing, File: name}
	s.mu.Unlock()

	if err := c.SaveUploadedFile(file, dst); err != nil {
		s.mu.Lock()
		s.progress = prev
		s.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.wg.Add(1)
	go s.ingest(dst)

	if wantsJSON(c) {
		c.JSON(http.StatusAccepted, s.snapshot())
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) ingest(path string) {
	defer s.wg.Done()
	n, err := s.service.Ingest(s.ctx, path, func(done, total int) {
		s.mu.Lock()
		s.progress.Done, s.progress.Total = done, total
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Ingest failed")
		s.progress.Status = StatusFailed
		s.progress.Error = err.Error()
		return
	}
	s.progress.Status = StatusReady
	s.progress.Chunks = n
}

func (s *Server) snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Server) getProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot())
}

type askRequest struct {
	Question string `json:"question" form:"question" binding:"required"`
	TopK     int    `json:"top_k" form:"top_k"`
}

type sourceView struct {
	Page    string `json:"page"`
	File    string `json:"file"`
	Snippet string `json:"snippet"`
}

type answerView struct {
	Question         string        `json:"question"`
	ResolvedQuestion string        `json:"resolved_question"`
	Answer           string        `json:"answer"`
	AnswerHTML       template.HTML `json:"answer_html"`
	ExactMatch       bool          `json:"exact_match"`
	Sources          []sourceView  `json:"sources"`
}

func (s *Server) askJSON(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, status, err := s.ask(c.Request.Context(), req)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) askForm(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBind(&req); err != nil {
		s.render(c, http.StatusBadRequest, nil, "Please enter a question.")
		return
	}
	view, status, err := s.ask(c.Request.Context(), req)
	if err != nil {
		s.render(c, status, nil, err.Error())
		return
	}
	s.render(c, http.StatusOK, view, "")
}

func (s *Server) ask(ctx context.Context, req askRequest) (*answerView, int, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	res, err := s.service.Answer(ctx, req.Question, topK)
	if err != nil {
		return nil, statusFor(err), err
	}

	view := &answerView{
		Question:         res.Question,
		ResolvedQuestion: res.ResolvedQuestion,
		Answer:           res.Answer,
		AnswerHTML:       s.renderMarkdown(res.Answer),
		ExactMatch:       res.ExactMatch,
		Sources:          make([]sourceView, len(res.Sources)),
	}
	for i, src := range res.Sources {
		view.Sources[i] = sourceView{Page: src.PageLabel(), File: src.FileName(), Snippet: src.Snippet(snippetRunes)}
	}
	return view, http.StatusOK, nil
}

func (s *Server) history(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.service.History()})
}

func (s *Server) index(c *gin.Context) {
	s.render(c, http.StatusOK, nil, "")
}

type historyView struct {
	Question   string
	AnswerHTML template.HTML
	AskedAt    string
}

func (s *Server) render(c *gin.Context, status int, answer *answerView, errMsg string) {
	entries := s.service.History()
	history := make([]historyView, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		history = append(history, historyView{
			Question:   entries[i].Question,
			AnswerHTML: s.renderMarkdown(entries[i].Answer),
			AskedAt:    entries[i].AskedAt.Format(time.Kitchen),
		})
	}
	c.HTML(status, "index", gin.H{
		"Ready":    s.service.Ready(),
		"Source":   s.service.Source(),
		"Progress": s.snapshot(),
		"Answer":   answer,
		"Error":    errMsg,
		"History":  history,
		"TopK":     strconv.Itoa(s.cfg.TopK),
	})
}

func (s *Server) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotReady), errors.Is(err, models.ErrEmptyStore):
		return http.StatusConflict
	case errors.Is(err, models.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func wantsJSON(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}
