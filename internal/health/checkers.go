package health

import (
	"context"
	"errors"
	"fmt"
)

// Prober is implemented by capture devices that can verify an input is
// present without opening a stream.
type Prober interface {
	Probe(ctx context.Context) error
}

// DeviceCheck returns a [Checker] named "device" that probes p.
func DeviceCheck(p Prober) Checker {
	return Checker{
		Name: "device",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("no capture device configured")
			}
			return p.Probe(ctx)
		},
	}
}

// DecoderCheck returns a [Checker] named "decoders" that fails unless every
// type in required is supported.
func DecoderCheck(supports func(mimeType string) bool, required ...string) Checker {
	return Checker{
		Name: "decoders",
		Check: func(context.Context) error {
			var missing []string
			for _, t := range required {
				if !supports(t) {
					missing = append(missing, t)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("no decoder for %v", missing)
			}
			return nil
		},
	}
}
