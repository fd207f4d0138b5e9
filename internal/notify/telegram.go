package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"notewatch/internal/content"
	"notewatch/pkg/logx"
)

type TelegramConfig struct {
	Token       string
	PollTimeout time.Duration
	RatePerSec  int
	SendTimeout time.Duration
}

// Telegram sends through a telebot long-polling bot. All outgoing traffic
// shares one token-bucket limiter so batch fan-out cannot trip Telegram's
// flood control.
type Telegram struct {
	bot     *tele.Bot
	log     logx.Logger
	limiter *rate.Limiter

	sendTimeout time.Duration

	runMu   sync.Mutex
	running bool
	runWG   sync.WaitGroup
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:         b,
		log:         log,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		sendTimeout: sendTimeout,
	}, nil
}

// Start registers the subscription commands and begins long-polling.
// book may be nil, in which case the commands reply with a notice instead.
func (t *Telegram) Start(ctx context.Context, book SubscriberBook) {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return
	}
	t.running = true
	t.runMu.Unlock()

	t.bot.Handle("/subscribe", func(c tele.Context) error {
		if book == nil {
			return c.Send("Subscriptions are managed by the operator.")
		}
		id := c.Chat().ID
		if err := book.AddSubscriber(id); err != nil {
			t.log.Warn("subscribe failed", logx.Int64("chat_id", id), logx.Err(err))
			return c.Send("Could not save your subscription, try again later.")
		}
		t.log.Info("subscriber added", logx.Int64("chat_id", id))
		return c.Send("Subscribed. You will be notified about new entries.")
	})

	t.bot.Handle("/unsubscribe", func(c tele.Context) error {
		if book == nil {
			return c.Send("Subscriptions are managed by the operator.")
		}
		id := c.Chat().ID
		if err := book.RemoveSubscriber(id); err != nil {
			t.log.Warn("unsubscribe failed", logx.Int64("chat_id", id), logx.Err(err))
			return c.Send("Could not remove your subscription, try again later.")
		}
		t.log.Info("subscriber removed", logx.Int64("chat_id", id))
		return c.Send("Unsubscribed.")
	})

	t.runWG.Add(1)
	go func() {
		defer t.runWG.Done()
		go func() {
			<-ctx.Done()
			t.bot.Stop()
		}()
		t.log.Info("polling started")
		t.bot.Start() // blocks until Stop() called
	}()
}

// Stop is best-effort: never block shutdown for too long on the long-poll.
func (t *Telegram) Stop(ctx context.Context) {
	t.runMu.Lock()
	wasRunning := t.running
	t.running = false
	t.runMu.Unlock()
	if !wasRunning {
		return
	}

	go t.bot.Stop()

	done := make(chan struct{})
	go func() {
		t.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.log.Info("polling stopped")
	case <-ctx.Done():
		t.log.Warn("telegram stop grace elapsed; continuing shutdown")
	}
}

// SendBatch delivers each category message to every recipient. It stops at
// the first failure: the caller treats the whole batch as undelivered and
// retries next cycle, which recipients that already got the message observe
// as a duplicate (documented at-least-once behavior).
func (t *Telegram) SendBatch(ctx context.Context, recipients []int64, batch content.Batch) error {
	msgs := FormatBatch(batch)
	for _, text := range msgs {
		for _, r := range recipients {
			if err := t.send(ctx, r, text); err != nil {
				return fmt.Errorf("send to %d: %w", r, err)
			}
		}
	}
	t.log.Info("batch delivered",
		logx.Int("recipients", len(recipients)),
		logx.Int("categories", len(batch)),
		logx.Int("items", batch.Total()))
	return nil
}

func (t *Telegram) SendAdmin(ctx context.Context, recipient int64, text string) error {
	if recipient == 0 {
		return nil
	}
	return t.send(ctx, recipient, text)
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	// telebot has no per-call context; bound the call ourselves.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	timer := time.NewTimer(t.sendTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("telegram send timed out")
	}
}
