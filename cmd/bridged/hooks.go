package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/bridge"
	"github.com/arzzra/soft_bridge/pkg/frame"
)

// demoHooks по '#' проигрывает файл всем участникам, раз в минуту пишет статистику
type demoHooks struct {
	log    *logrus.Entry
	ticker *time.Ticker
}

func newDemoHooks(log *logrus.Entry, name string) *demoHooks {
	return &demoHooks{
		log:    log.WithField("channel", name),
		ticker: time.NewTicker(time.Minute),
	}
}

func (h *demoHooks) MatchDTMF(d frame.DTMFDigit) bool { return d == frame.DTMFPound }

func (h *demoHooks) Feature(ctx context.Context, bc *bridge.BridgeChannel, d frame.DTMFDigit) {
	h.log.WithField("digit", d.String()).Info("функция")
	if err := bc.WriteAction(&bridge.Action{Type: bridge.ActionPlayFile, File: "beep"}); err != nil {
		h.log.WithError(err).Warn("действие не поставлено")
	}
}

func (h *demoHooks) Interval(ctx context.Context, bc *bridge.BridgeChannel) {
	b := bc.Bridge()
	if b == nil {
		return
	}
	h.log.WithFields(logrus.Fields{
		"bridge":     b.ID(),
		"technology": b.Technology(),
		"channels":   b.NumChannels(),
		"active":     b.NumActive(),
		"video_src":  b.NumberVideoSrc(),
	}).Info("состояние моста")
}

func (h *demoHooks) IntervalC() <-chan time.Time { return h.ticker.C }

func (h *demoHooks) Talking(bc *bridge.BridgeChannel, talking bool) {
	h.log.WithField("talking", talking).Debug("речь")
}

// logPlayer проигрыватель без звука: пишет в лог и отправляет в канал текстовую метку
type logPlayer struct {
	log *logrus.Entry
}

func (p *logPlayer) Play(ctx context.Context, ch bridge.Channel, file string) error {
	p.log.WithFields(logrus.Fields{"channel": ch.Name(), "file": file}).Info("проигрывание")
	return ch.Write(frame.NewText("play:" + file))
}
