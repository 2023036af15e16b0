/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"chainguard.dev/planbot/command"
	"chainguard.dev/planbot/jobstore"
	"chainguard.dev/planbot/statusreporter"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GitHub caps webhook payloads at 25MB.
const maxBodySize = "25M"

var deliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "planbot_webhook_deliveries_total",
		Help: "Webhook deliveries received, by event type and result",
	},
	[]string{"event", "result"},
)

// Store is the part of the job store the receiver needs.
type Store interface {
	Insert(ctx context.Context, nj jobstore.NewJob) (*jobstore.Job, bool, error)
	QueueDepth(ctx context.Context, repo string) (jobstore.Depth, error)
	CountPending(ctx context.Context) (int, error)
}

// Reporter posts a comment on a pull request.
type Reporter interface {
	Report(ctx context.Context, repo string, pr int, body string)
}

// Notifier is told when a new job is queued.
type Notifier interface {
	Wake()
}

// Repos is the set of repositories the bot acts on.
type Repos interface {
	Has(repo string) bool
}

// Options configures a Receiver.
type Options struct {
	Secret      []byte
	BotUsername string
	Repos       Repos
	Store       Store
	Reporter    Reporter
	// Notifier is optional.
	Notifier Notifier
}

// Receiver authenticates deliveries and turns commands into jobs.
type Receiver struct {
	secret      []byte
	botUsername string
	repos       Repos
	store       Store
	reporter    Reporter
	notifier    Notifier
}

// NewReceiver validates opts and returns a Receiver.
func NewReceiver(opts Options) (*Receiver, error) {
	switch {
	case len(opts.Secret) == 0:
		return nil, errors.New("webhook secret cannot be empty")
	case opts.BotUsername == "":
		return nil, errors.New("bot username cannot be empty")
	case opts.Repos == nil:
		return nil, errors.New("watched repos cannot be nil")
	case opts.Store == nil:
		return nil, errors.New("store cannot be nil")
	case opts.Reporter == nil:
		return nil, errors.New("reporter cannot be nil")
	}
	return &Receiver{
		secret:      opts.Secret,
		botUsername: opts.BotUsername,
		repos:       opts.Repos,
		store:       opts.Store,
		reporter:    opts.Reporter,
		notifier:    opts.Notifier,
	}, nil
}

// Handler returns an echo instance serving the receiver routes.
func (r *Receiver) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(withDelivery)
	r.Register(e)
	return e
}

// Register adds the receiver routes to e.
func (r *Receiver) Register(e *echo.Echo) {
	e.POST("/webhook", r.handleWebhook, middleware.BodyLimit(maxBodySize))
	e.GET("/healthz", r.handleHealth)
}

type response struct {
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
	JobID  int64  `json:"job_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r *Receiver) handleWebhook(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	log := clog.FromContext(ctx)
	eventType := req.Header.Get(github.EventTypeHeader)

	body, err := io.ReadAll(req.Body)
	if err != nil {
		deliveriesTotal.WithLabelValues(eventType, "unreadable").Inc()
		return c.JSON(http.StatusBadRequest, response{Error: "unreadable body"})
	}

	if !VerifySignature(body, SignatureHeader(req.Header), r.secret) {
		deliveriesTotal.WithLabelValues(eventType, "rejected").Inc()
		log.Warn("Rejected delivery with invalid signature")
		return c.JSON(http.StatusUnauthorized, response{Error: "invalid signature"})
	}

	ev, err := ParseEvent(eventType, body)
	if err != nil {
		deliveriesTotal.WithLabelValues(eventType, "malformed").Inc()
		log.Warnf("Malformed %s delivery: %v", eventType, err)
		return c.JSON(http.StatusBadRequest, response{Error: "malformed payload"})
	}
	if ev == nil {
		return ignore(c, eventType, "event not handled")
	}
	if !strings.EqualFold(ev.Author, r.botUsername) {
		return ignore(c, eventType, "sender not allowed")
	}
	if !r.repos.Has(ev.Repo) {
		return ignore(c, eventType, "repository not watched")
	}
	cmd := ev.Command()
	if cmd == command.None {
		return ignore(c, eventType, "no command")
	}

	log = log.With("repo", ev.Repo, "pr", ev.PRNumber, "command", string(cmd))
	ctx = clog.WithLogger(ctx, log)

	if cmd == command.Status {
		depth, err := r.store.QueueDepth(ctx, ev.Repo)
		if err != nil {
			deliveriesTotal.WithLabelValues(eventType, "error").Inc()
			log.Errorf("Failed to read queue depth: %v", err)
			return c.JSON(http.StatusInternalServerError, response{Error: "store unavailable"})
		}
		r.reporter.Report(ctx, ev.Repo, ev.PRNumber, statusreporter.QueueDepth(ev.Repo, depth))
		deliveriesTotal.WithLabelValues(eventType, "status").Inc()
		return c.JSON(http.StatusOK, response{Status: "status reported"})
	}

	job, created, err := r.store.Insert(ctx, jobstore.NewJob{
		CommentID: ev.CommentID,
		Repo:      ev.Repo,
		PRNumber:  ev.PRNumber,
		Branch:    ev.Branch,
		Command:   cmd,
	})
	if err != nil {
		deliveriesTotal.WithLabelValues(eventType, "error").Inc()
		log.Errorf("Failed to queue job for comment %d: %v", ev.CommentID, err)
		return c.JSON(http.StatusInternalServerError, response{Error: "store unavailable"})
	}
	if !created {
		deliveriesTotal.WithLabelValues(eventType, "duplicate").Inc()
		log.Infof("Duplicate delivery for comment %d, job %d already exists", ev.CommentID, job.ID)
		return c.JSON(http.StatusOK, response{Status: "duplicate", JobID: job.ID})
	}

	log.Infof("Queued job %d", job.ID)
	if r.notifier != nil {
		r.notifier.Wake()
	}
	deliveriesTotal.WithLabelValues(eventType, "queued").Inc()
	return c.JSON(http.StatusOK, response{Status: "queued", JobID: job.ID})
}

func ignore(c echo.Context, eventType, reason string) error {
	deliveriesTotal.WithLabelValues(eventType, "ignored").Inc()
	clog.FromContext(c.Request().Context()).Debugf("Ignoring %s delivery: %s", eventType, reason)
	return c.JSON(http.StatusOK, response{Status: "ignored", Reason: reason})
}

type health struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

func (r *Receiver) handleHealth(c echo.Context) error {
	n, err := r.store.CountPending(c.Request().Context())
	if err != nil {
		clog.FromContext(c.Request().Context()).Errorf("Health check failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, response{Error: "store unavailable"})
	}
	return c.JSON(http.StatusOK, health{Status: "ok", Pending: n})
}

// withDelivery binds the delivery id into the request logger.
func withDelivery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		id := req.Header.Get(github.DeliveryIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)

		log := clog.FromContext(req.Context()).With("delivery", id)
		c.SetRequest(req.WithContext(clog.WithLogger(req.Context(), log)))

		start := time.Now()
		err := next(c)
		log.With("method", req.Method).
			With("path", req.URL.Path).
			With("status", c.Response().Status).
			With("duration_ms", time.Since(start).Milliseconds()).
			Debug("http request")
		return err
	}
}
