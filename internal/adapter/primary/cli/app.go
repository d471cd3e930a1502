package cli

import (
	"context"
	"errors"

	"tinnicap/internal/adapter/secondary/history"
	"tinnicap/internal/adapter/secondary/host"
	"tinnicap/internal/adapter/secondary/notify"
	"tinnicap/internal/adapter/secondary/repository"
	"tinnicap/internal/logging"
	"tinnicap/internal/usecase"
)

// openEngine wires the settings file and the audio backend into a monitor.
// The monitor is not started.
func openEngine() (usecase.MonitorUseCase, error) {
	if opts == nil {
		return nil, errors.New("options not loaded")
	}
	repo, err := repository.NewFileRepository(opts.Settings)
	if err != nil {
		return nil, err
	}
	h, err := host.Open(opts.Backend, opts.Fixture)
	if err != nil {
		return nil, err
	}
	return usecase.NewMonitorUseCase(repo, h, usecase.WithPollInterval(opts.PollInterval)), nil
}

// sinkSet holds the notification sinks enabled by the options.
type sinkSet struct {
	sinks   []notify.Sink
	history *history.Store
	mqtt    *notify.MQTTPublisher
	influx  *notify.InfluxWriter
}

// openSinks builds the sinks. Sinks that fail to come up are logged and skipped;
// only the history database is fatal, since it was asked for explicitly.
func openSinks() (*sinkSet, error) {
	set := &sinkSet{sinks: []notify.Sink{notify.LogSink{}}}

	if opts.Notify.Desktop {
		set.sinks = append(set.sinks, notify.NewDesktopNotifier())
	}

	if opts.MQTT.Broker != "" {
		pub, err := notify.ConnectMQTT(notify.MQTTConfig{
			Broker:      opts.MQTT.Broker,
			ClientID:    opts.MQTT.ClientID,
			TopicPrefix: opts.MQTT.TopicPrefix,
			QoS:         byte(opts.MQTT.QoS),
		})
		if err != nil {
			logging.Warnf("mqtt disabled: %v", err)
		} else {
			set.mqtt = pub
			set.sinks = append(set.sinks, pub)
		}
	}

	if opts.Influx.URL != "" {
		w, err := notify.ConnectInflux(notify.InfluxConfig{
			URL:           opts.Influx.URL,
			Token:         opts.Influx.Token,
			Org:           opts.Influx.Org,
			Bucket:        opts.Influx.Bucket,
			FlushInterval: opts.Influx.FlushInterval,
		})
		if err != nil {
			logging.Warnf("influxdb disabled: %v", err)
		} else {
			set.influx = w
			set.sinks = append(set.sinks, w)
		}
	}

	if opts.History.Path != "" {
		store, err := history.Open(opts.History.Path)
		if err != nil {
			set.Close()
			return nil, err
		}
		set.history = store
		set.sinks = append(set.sinks, store)
	}
	return set, nil
}

func (s *sinkSet) Close() {
	if s.mqtt != nil {
		if err := s.mqtt.Close(); err != nil {
			logging.Warnf("mqtt close: %v", err)
		}
	}
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			logging.Warnf("influxdb close: %v", err)
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			logging.Warnf("history close: %v", err)
		}
	}
}

// runEngine subscribes the sinks, starts the monitor and returns a function that
// stops both in order: engine first, then the forwarder once it has drained.
func runEngine(ctx context.Context, uc usecase.MonitorUseCase, sinks *sinkSet) (func(), error) {
	sub := uc.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		notify.Forward(context.WithoutCancel(ctx), sub, sinks.sinks...)
	}()

	if err := uc.Start(ctx); err != nil {
		sub.Close()
		<-done
		return nil, err
	}
	return func() {
		uc.Stop()
		sub.Close()
		<-done
	}, nil
}
