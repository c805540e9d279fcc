package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/soft_bridge/pkg/bridge"
	"github.com/arzzra/soft_bridge/pkg/channel"
	"github.com/arzzra/soft_bridge/pkg/config"
	"github.com/arzzra/soft_bridge/pkg/frame"
	"github.com/arzzra/soft_bridge/pkg/logging"
	"github.com/arzzra/soft_bridge/pkg/technologies"
)

// offer SDP, из которого берутся форматы демонстрационных каналов
const offer = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=bridged\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 10000 RTP/AVP 8 0 101\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"m=video 10002 RTP/AVP 97\r\n" +
	"a=rtpmap:97 VP8/90000\r\n"

func main() {
	var (
		configPath = flag.String("config", "", "Путь к ini файлу настроек")
		channels   = flag.Int("channels", 3, "Количество демонстрационных каналов")
		ptime      = flag.Duration("ptime", 20*time.Millisecond, "Интервал голосовых кадров")
		video      = flag.String("video", "talker", "Режим видео: none, single, talker")
	)
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки настроек: %v\n", err)
		os.Exit(1)
	}

	logs := logging.New(cfg.Logging, os.Stdout)
	defer logs.Close()
	log := logs.Core

	if err := run(cfg, logs, *channels, *ptime, *video); err != nil {
		log.WithError(err).Error("демон завершился с ошибкой")
		logs.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logs *logging.Logging, count int, ptime time.Duration, videoMode string) error {
	log := logs.Core

	opts := []bridge.Option{
		bridge.WithLogger(logs.Bridge),
		bridge.WithSettings(cfg.Settings()),
		bridge.WithPlayer(&logPlayer{log: log}),
	}

	var server *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, bridge.WithMetrics(bridge.NewMetrics(reg, cfg.Metrics.Namespace)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("address", cfg.Metrics.Address).Info("метрики доступны по /metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("ошибка HTTP сервера метрик")
			}
		}()
	}

	registry := bridge.NewRegistry(opts...)
	if err := technologies.Register(registry); err != nil {
		return fmt.Errorf("регистрация технологий: %w", err)
	}

	b, err := registry.NewBridge(cfg.Capabilities(), cfg.Flags())
	if err != nil {
		return fmt.Errorf("создание моста: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for i := 0; i < count; i++ {
		ch, err := channel.NewLocalFromSDP(fmt.Sprintf("local-%d", i+1), []byte(offer))
		if err != nil {
			return err
		}
		opts := &bridge.ImpartOptions{
			Independent: true,
			Features:    &bridge.Features{Hooks: newDemoHooks(log, ch.Name()), TalkThreshold: 60},
		}
		if err := b.Impart(ch, opts); err != nil {
			log.WithError(err).WithField("channel", ch.Name()).Warn("канал не вошел в мост")
			continue
		}
		go generate(ctx, ch, ptime, i)
	}

	switch videoMode {
	case "single":
		if chans := b.Channels(); len(chans) > 0 {
			b.SetSingleSrcVideoMode(chans[0])
		}
	case "talker":
		b.SetTalkerSrcVideoMode()
	}

	log.WithFields(logrus.Fields{
		"bridge":     b.ID(),
		"technology": b.Technology(),
		"channels":   b.NumChannels(),
	}).Info("демон запущен")

	<-ctx.Done()
	log.Info("получен сигнал завершения")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result error
	if err := registry.Shutdown(shutdownCtx); err != nil {
		result = fmt.Errorf("остановка мостов: %w", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil && result == nil {
			result = fmt.Errorf("остановка HTTP сервера: %w", err)
		}
	}
	return result
}

// generate подает в канал голос и видео с меняющейся энергией, а каждые
// несколько секунд набирает DTMF
func generate(ctx context.Context, ch *channel.Local, ptime time.Duration, index int) {
	ticker := time.NewTicker(ptime)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ch.HangupC():
			return
		case <-ticker.C:
		}

		seq++
		ts += 160
		f := frame.NewVoice(&rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 8, SequenceNumber: seq, Timestamp: ts, SSRC: uint32(index + 1)},
			Payload: make([]byte, 160),
		})
		// говорящий меняется каждые две секунды
		if (n/100)%3 == index%3 {
			f.Energy = 100
		} else {
			f.Energy = 10
		}
		if err := ch.Inject(f); err != nil {
			return
		}

		if n%5 == 0 {
			v := frame.NewVideo(&rtp.Packet{
				Header:  rtp.Header{Version: 2, PayloadType: 97, SequenceNumber: seq, Timestamp: ts * 90 / 8, SSRC: uint32(index + 100)},
				Payload: []byte{0x10},
			}, n%25 == 0)
			if err := ch.Inject(v); err != nil {
				return
			}
		}

		// исходящие кадры демонстрационному каналу не нужны
		if n%250 == 0 {
			ch.ResetWritten()
		}

		if index == 0 && n > 0 && n%500 == 0 {
			d, _ := frame.ParseDTMFDigit('#')
			_ = ch.Inject(frame.NewDTMF(frame.TypeDTMFBegin, d, 0))
			_ = ch.Inject(frame.NewDTMF(frame.TypeDTMFEnd, d, frame.DefaultDTMFDuration))
		}
	}
}
