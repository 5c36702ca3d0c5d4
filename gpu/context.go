package gpu

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// ErrUnavailable is returned when no WebGPU adapter or device can be opened.
var ErrUnavailable = errors.New("gpu: webgpu unavailable")

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Name     string
	Limits   Limits

	// submissions on a single queue are serialized
	mu sync.Mutex
}

var (
	ctx     Context
	ctxOnce sync.Once
	ctxErr  error
)

// GetContext returns the singleton GPU context, initializing it if necessary.
// A discrete (NVIDIA) adapter is preferred, then high performance, then low
// power, then whatever the platform offers.
func GetContext() (*Context, error) {
	ctxOnce.Do(func() {
		ctxErr = initContext()
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	return &ctx, nil
}

func initContext() error {
	ctx.Instance = wgpu.CreateInstance(nil)
	if ctx.Instance == nil {
		return fmt.Errorf("create instance: %w", ErrUnavailable)
	}

	for _, a := range ctx.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		name := strings.ToLower(info.Name + " " + info.VendorName)
		if strings.Contains(name, "nvidia") {
			ctx.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if ctx.Adapter != nil {
			break
		}
		ctx.Adapter, err = ctx.Instance.RequestAdapter(opts)
		if err != nil {
			log.Printf("gpu: adapter request failed: %v", err)
		}
	}
	if ctx.Adapter == nil {
		return fmt.Errorf("all adapter attempts failed (%v): %w", err, ErrUnavailable)
	}

	info := ctx.Adapter.GetInfo()
	ctx.Name = info.Name
	ctx.Limits = limitsFrom(ctx.Adapter.GetLimits())
	log.Printf("gpu: adapter=%q vendor=%q", info.Name, info.VendorName)

	ctx.Device, err = ctx.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %v: %w", err, ErrUnavailable)
	}
	ctx.Queue = ctx.Device.GetQueue()
	if ctx.Queue == nil {
		return fmt.Errorf("device queue not initialized: %w", ErrUnavailable)
	}
	return nil
}
