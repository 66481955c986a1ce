/*
Copyright 2022 The Matrix.org Foundation C.I.C.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/moonly/moonly/pkg/call"
	"github.com/moonly/moonly/pkg/config"
	"github.com/moonly/moonly/pkg/media"
	"github.com/moonly/moonly/pkg/profiling"
	"github.com/moonly/moonly/pkg/signaling"
	"github.com/moonly/moonly/pkg/telemetry"
	"github.com/moonly/moonly/pkg/webrtc_ext"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		placeCall      = flag.Bool("call", false, "call the remote party instead of waiting for its call")
		withVideo      = flag.Bool("video", true, "send the camera along with the microphone")
		shareScreen    = flag.Bool("share", false, "share the display once the call is established")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	// Define functions that are called before exiting.
	// This is useful to stop the profiler if it's enabled.
	deferredFunctions := []func(){}
	defer func() {
		for _, function := range deferredFunctions {
			function()
		}
	}()

	if *cpuProfile != "" {
		stop, err := profiling.InitCPUProfiling(*cpuProfile)
		if err != nil {
			logrus.WithError(err).Fatal("could not start CPU profiling")
		}
		deferredFunctions = append(deferredFunctions, stop)
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(*memProfile))
	}

	// Handle signal interruptions.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Info("interrupted, hanging up")
		cancel()
	}()

	// Load the config file from the environment variable or path.
	config, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Error("could not load config")
		return
	}

	level, err := config.Level()
	if err != nil {
		logrus.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if config.Telemetry.Enabled() {
		provider, err := telemetry.SetupTelemetry(ctx, config.Telemetry)
		if err != nil {
			logrus.WithError(err).Error("could not set up telemetry")
			return
		}

		deferredFunctions = append(deferredFunctions, func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				logrus.WithError(err).Error("could not shut down telemetry")
			}
		})
	}

	if err := run(ctx, config, *placeCall, *withVideo, *shareScreen); err != nil {
		logrus.WithError(err).Error("call client stopped")
	}
}

func run(ctx context.Context, config *config.Config, placeCall, withVideo, shareScreen bool) error {
	logger := logrus.WithField("transport", config.Signaling.Transport)

	factory, err := webrtc_ext.NewPeerConnectionFactory(config.WebRTC)
	if err != nil {
		return err
	}

	devices := media.NewFileDevices(config.Devices, logrus.WithField("component", "devices"))

	manager, err := call.NewManager(factory, devices, logrus.WithField("component", "call"))
	if err != nil {
		return err
	}
	defer manager.Close()

	signaler, err := signaling.Connect(ctx, config.Signaling, logger)
	if err != nil {
		return err
	}
	defer signaler.Close()

	constraints := media.Constraints{Audio: config.Devices.Microphone != "", Video: withVideo && config.Devices.Camera != ""}
	bridge := signaling.NewBridge(manager, signaler, constraints, logger)

	receiver := media.NewReceiver(func(track *webrtc.TrackRemote) {
		drain(track, logger)
	})
	manager.OnRemoteStream(func(stream *media.RemoteStream) {
		for _, track := range receiver.Receive(stream) {
			logger.WithFields(logrus.Fields{
				"stream_id": stream.ID(),
				"track_id":  track.ID(),
				"kind":      track.Kind(),
			}).Info("receiving remote track")
		}
	})

	manager.OnScreenStream(func(stream *media.Stream) {
		logger.WithField("stream_id", stream.ID()).Info("sharing the screen")
	})

	manager.OnCallEnd(func() {
		logger.Info("call ended")
	})

	manager.OnStateChange(func(state call.State) {
		logger.WithField("state", state).Debug("call state changed")

		if state == call.StateInCall && shareScreen && !manager.Sharing() {
			go func() {
				if _, err := manager.StartScreenShare(ctx); err != nil {
					logger.WithError(err).Warn("could not share the screen")
				}
			}()
		}
	})

	if placeCall {
		if err := bridge.Call(ctx); err != nil {
			return err
		}
	}

	err = bridge.Run(ctx)

	if manager.State() != call.StateIdle {
		if hangupErr := bridge.Hangup(signaling.ReasonUserHangup); hangupErr != nil {
			logger.WithError(hangupErr).Error("failed to hang up")
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func drain(track *webrtc.TrackRemote, logger *logrus.Entry) {
	stats := media.Drain(track, nil)
	logger.WithFields(logrus.Fields{
		"track_id":  track.ID(),
		"packets":   stats.Packets,
		"bytes":     stats.Bytes,
		"lost":      stats.Lost,
		"reordered": stats.Reordered,
	}).Info("remote track ended")
}
