package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Processor is the asynq worker for poll and notification tasks.
type Processor struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	sender Sender
	log    *zap.Logger
}

// NewProcessor wires handlers onto a new asynq server. polls may be nil when
// the process polls in-process and only delivers notifications.
func NewProcessor(opt asynq.RedisConnOpt, polls *PollQueue, sender Sender, log *zap.Logger) *Processor {
	p := &Processor{sender: sender, log: log}
	p.mux = NewServeMux(polls, p)
	cfg := asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			QueuePolls:  6,
			QueueNotify: 3,
			QueueAlerts: 1,
		},
		IsFailure: func(err error) bool { return !errors.Is(err, ErrStillPending) },
		Logger:    log.Sugar(),
	}
	if polls != nil {
		cfg.RetryDelayFunc = polls.RetryDelay
	}
	p.srv = asynq.NewServer(opt, cfg)
	return p
}

// NewServeMux routes every task type this service produces.
func NewServeMux(polls *PollQueue, p *Processor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if polls != nil {
		mux.HandleFunc(TaskPaymentPoll, polls.HandlePoll)
	}
	mux.HandleFunc(TaskLoanDisbursed, p.handleNotification)
	mux.HandleFunc(TaskPaymentFailed, p.handleNotification)
	mux.HandleFunc(TaskAdminAlert, p.handleNotification)
	mux.HandleFunc(TaskWithdrawalRequested, p.handleNotification)
	return mux
}

// Start runs the worker in the background.
func (p *Processor) Start() error {
	if err := p.srv.Start(p.mux); err != nil {
		return fmt.Errorf("start asynq worker: %w", err)
	}
	p.log.Info("asynq worker started")
	return nil
}

func (p *Processor) Shutdown() {
	p.srv.Shutdown()
}

// Every notification payload carries its rendered envelope.
type envelopeOnly struct {
	Envelope Envelope `json:"envelope"`
}

func (p *Processor) handleNotification(ctx context.Context, t *asynq.Task) error {
	var in envelopeOnly
	if err := json.Unmarshal(t.Payload(), &in); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if err := p.sender.Send(ctx, in.Envelope); err != nil {
		p.log.Error("[notify] send failed", zap.String("type", t.Type()), zap.Error(err))
		return err
	}
	p.log.Debug("[notify] sent", zap.String("type", t.Type()), zap.String("reference", in.Envelope.Reference))
	return nil
}
