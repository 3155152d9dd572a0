package main

import (
	"fmt"

	"github.com/plantacq/plantacq/pkg/config"
	"github.com/plantacq/plantacq/pkg/daq"
	"github.com/plantacq/plantacq/pkg/sample"
	"github.com/plantacq/plantacq/pkg/settings"
	"github.com/plantacq/plantacq/pkg/stream"
	"github.com/rs/zerolog/log"
)

// appState holds an open device and the acquisition chain built on it.
type appState struct {
	cfg     *config.Config
	useMock bool
	link    *daq.Link
	store   settings.Store
	buffer  *sample.Buffer
	ctrl    *stream.Controller
}

// openApp opens the device (or the simulated one), verifies its identity and
// builds the acquisition chain with the stored calibration.
func openApp(cfg *config.Config, useMock bool) (*appState, error) {
	endpoints := daq.EndpointsFrom(cfg.USB)

	var transport daq.Transport
	if useMock {
		transport = daq.NewMock(&cfg.Mock, cfg.Stream, endpoints)
		log.Info().Msg("using simulated device")
	} else {
		usb, err := daq.OpenUSB(cfg.USB)
		if err != nil {
			return nil, err
		}
		transport = usb
	}

	link := daq.NewLink(transport, endpoints)
	if err := link.ConnectionTest(daq.Identity); err != nil {
		link.Close()
		return nil, fmt.Errorf("device at %04x:%04x: %w", cfg.USB.VendorID, cfg.USB.ProductID, err)
	}

	store := settings.NewViperStore(cfg.Settings.Path)
	conv, _, err := store.Load()
	if err != nil {
		link.Close()
		return nil, err
	}

	buffer, err := sample.NewBuffer(cfg.Stream, conv)
	if err != nil {
		link.Close()
		return nil, err
	}

	app := &appState{
		cfg:     cfg,
		useMock: useMock,
		link:    link,
		store:   store,
		buffer:  buffer,
		ctrl:    stream.NewController(cfg.Stream, link, buffer),
	}

	if err := app.ctrl.SetChannelCount(cfg.Stream.Channels); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close stops any running acquisition and releases the device.
func (a *appState) Close() error {
	if a.ctrl.IsRunning() {
		if err := a.ctrl.StopReading(); err != nil {
			log.Warn().Err(err).Msg("failed to stop acquisition")
		}
	}
	return a.link.Close()
}
