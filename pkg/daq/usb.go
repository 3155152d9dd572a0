package daq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/plantacq/plantacq/pkg/config"
	"github.com/rs/zerolog/log"
)

// USB is a Transport backed by libusb bulk endpoints.
type USB struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	done    func()
	timeout time.Duration

	mu  sync.Mutex
	out map[int]*gousb.OutEndpoint
	in  map[int]*gousb.InEndpoint
}

// OpenUSB finds the device by vendor/product id, claims its default interface
// and opens the configured endpoints.
func OpenUSB(cfg config.USBConfig) (*USB, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(cfg.VendorID), gousb.ID(cfg.ProductID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open device %04x:%04x: %w", cfg.VendorID, cfg.ProductID, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, cfg.VendorID, cfg.ProductID)
	}
	log.Info().Str("device", dev.String()).Msg("USB device is found")

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debug().Err(err).Msg("auto detach not supported")
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim default interface: %w", err)
	}

	u := &USB{
		ctx:     ctx,
		dev:     dev,
		intf:    intf,
		done:    done,
		timeout: cfg.Timeout,
		out:     make(map[int]*gousb.OutEndpoint),
		in:      make(map[int]*gousb.InEndpoint),
	}

	outEP, err := intf.OutEndpoint(cfg.OutEndpoint)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("no OUT endpoint 0x%02x: %w", cfg.OutEndpoint, err)
	}
	u.out[cfg.OutEndpoint] = outEP

	for _, addr := range []int{cfg.InfoEndpoint, cfg.DataEndpoint} {
		ep, err := intf.InEndpoint(addr & 0x0f)
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("no IN endpoint 0x%02x: %w", addr, err)
		}
		u.in[addr] = ep
	}

	return u, nil
}

// Write sends data to an OUT endpoint.
func (u *USB) Write(endpoint int, data []byte) (int, error) {
	u.mu.Lock()
	ep, ok := u.out[endpoint]
	u.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("OUT endpoint 0x%02x not open", endpoint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	n, err := ep.WriteContext(ctx, data)
	if err != nil && isTimeout(err) {
		return n, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return n, err
}

// Read reads up to n bytes from an IN endpoint.
func (u *USB) Read(endpoint int, n int) ([]byte, error) {
	u.mu.Lock()
	ep, ok := u.in[endpoint]
	u.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("IN endpoint 0x%02x not open", endpoint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	buf := make([]byte, n)
	got, err := ep.ReadContext(ctx, buf)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	return buf[:got], nil
}

// Close releases the interface, the device and the libusb context.
func (u *USB) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.out = map[int]*gousb.OutEndpoint{}
	u.in = map[int]*gousb.InEndpoint{}

	if u.done != nil {
		u.done()
		u.done = nil
	}
	var err error
	if u.dev != nil {
		err = u.dev.Close()
		u.dev = nil
	}
	if u.ctx != nil {
		if cerr := u.ctx.Close(); err == nil {
			err = cerr
		}
		u.ctx = nil
	}
	return err
}

// DeviceInfo describes an attached USB device.
type DeviceInfo struct {
	Bus       int
	Address   int
	VendorID  int
	ProductID int
	Speed     string
	Matches   bool // Vendor and product match the configured device
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("bus %03d address %03d: %04x:%04x (%s)", d.Bus, d.Address, d.VendorID, d.ProductID, d.Speed)
}

// ListUSB enumerates attached USB devices without opening them.
func ListUSB(cfg config.USBConfig) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var out []DeviceInfo
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		out = append(out, DeviceInfo{
			Bus:       desc.Bus,
			Address:   desc.Address,
			VendorID:  int(desc.Vendor),
			ProductID: int(desc.Product),
			Speed:     desc.Speed.String(),
			Matches:   int(desc.Vendor) == cfg.VendorID && int(desc.Product) == cfg.ProductID,
		})
		return false
	})
	if err != nil {
		return out, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return out, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled)
}
