package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/pid_testboard/internal/cycle"
)

// screen is the part of the ssd1306 device the status loop draws on.
type screen interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// fixedAddrBus sends every transaction to addr. ssd1306.NewI2C always talks
// to 0x3C; this moves it to the configured address.
type fixedAddrBus struct {
	i2c.Bus
	addr uint16
}

func (b fixedAddrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// RunDisplay shows the controller status on an SSD1306 until ctx is done.
func RunDisplay(ctx context.Context, src StatusSource, addr uint16, interval time.Duration, log *zap.SugaredLogger) error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize periph")
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return errors.Wrap(err, "failed to open I2C bus")
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(fixedAddrBus{Bus: bus, addr: addr}, &ssd1306.DefaultOpts)
	if err != nil {
		return errors.Wrapf(err, "failed to initialize display at 0x%02X", addr)
	}
	log.Infof("display: initialized at 0x%02X", addr)

	if err := dev.Draw(dev.Bounds(), splash(), image.Point{}); err != nil {
		log.Warnf("display: error showing splash: %v", err)
	}

	err = displayLoop(ctx, dev, src, interval, log)
	if haltErr := dev.Halt(); haltErr != nil {
		log.Warnf("display: halt: %v", haltErr)
	}
	return err
}

func displayLoop(ctx context.Context, dev screen, src StatusSource, interval time.Duration, log *zap.SugaredLogger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last cycle.Status
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		st := src.Status()
		if !first && st == last {
			continue
		}
		if err := dev.Draw(dev.Bounds(), renderStatus(st), image.Point{}); err != nil {
			log.Warnf("display: error updating: %v", err)
			continue
		}
		last, first = st, false
	}
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func renderStatus(st cycle.Status) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	lines := make([]string, 4)
	if st.State == cycle.Running.String() {
		lines[0] = "RUN  " + st.Mode
		lines[1] = fmt.Sprintf("%-5s t=%5.2fs", st.CycleType, st.Elapsed)
		if st.Parked {
			lines[2] = "parked"
		} else {
			lines[2] = fmt.Sprintf("ref %+.1f %s", st.Reference, st.Unit)
		}
	} else {
		lines[0] = "IDLE " + st.Mode
		lines[1] = st.CycleType
		lines[2] = "press to start"
	}
	lines[3] = fmt.Sprintf("cycles %d", st.Cycles)
	if st.LastEnd != "" {
		lines[3] += " " + string(st.LastEnd)
	}

	for i, l := range lines {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(l)
	}
	return img
}

func splash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawString("PID Testboard")

	drawer.Dot = fixed.P(25, 43)
	drawer.DrawString("starting")
	return img
}
