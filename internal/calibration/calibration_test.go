package calibration

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParameterClamp(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"inside", 7, 7},
		{"above max", 20, 15},
		{"below min", -3, 0},
		{"at max", 15, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("Cycle Length S", 5, 0, 15)
			assert.Equal(t, tt.want, p.Set(tt.in), "Set reports the stored value")
			assert.Equal(t, tt.want, p.Get())
			assert.True(t, p.Dirty())
		})
	}
}

func TestParameterUnbounded(t *testing.T) {
	p := Unbounded("Gain Position D", 50)
	p.Set(1e6)
	assert.Equal(t, 1e6, p.Get())
	p.Set(-1e6)
	assert.Equal(t, -1e6, p.Get())

	_, _, bounded := p.Bounds()
	assert.False(t, bounded)
}

func TestParameterDefaultIsClamped(t *testing.T) {
	p := New("x", 99, -1, 1)
	assert.Equal(t, 1.0, p.Get())
	assert.False(t, p.Dirty())
}

func TestParameterAcknowledge(t *testing.T) {
	p := New("Control Mode", 0, 0, 3)
	assert.False(t, p.Dirty())

	p.Set(2)
	require.True(t, p.Dirty())
	assert.Equal(t, 2.0, p.Acknowledge())
	assert.False(t, p.Dirty())

	p.Restore(1)
	assert.False(t, p.Dirty(), "restore must not mark dirty")
	assert.Equal(t, 1.0, p.Get())
}

func TestParameterIgnoresNaN(t *testing.T) {
	p := New("x", 1, 0, 2)
	assert.Equal(t, 1.0, p.Set(math.NaN()))
	assert.Equal(t, 1.0, p.Get())
	assert.False(t, p.Dirty())
}

func TestUpdateReportsOwnWrite(t *testing.T) {
	s := NewSet()
	p := s.Register("Cycle Amplititude", 100, -3000, 3000)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p.Set(-3000)
			}
		}
	}()
	for i := 0; i < 1000; i++ {
		v, err := s.Update("Cycle Amplititude", 5000)
		require.NoError(t, err)
		require.Equal(t, 3000.0, v)
	}
	close(stop)
	wg.Wait()
}

func TestParameterConcurrentAccess(t *testing.T) {
	p := New("Cycle Amplititude", 100, -3000, 3000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				p.Set(v)
			}
		}(float64(i * 1000))
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				v := p.Get()
				assert.True(t, v >= -3000 && v <= 3000)
			}
		}()
	}
	wg.Wait()
}

func TestSetUpdate(t *testing.T) {
	s := NewSet()
	s.Register("Step Cycle On Pct", 75, 0, 100)
	again := s.Register("Step Cycle On Pct", 10, 0, 1)
	assert.Equal(t, 75.0, again.Get(), "duplicate register returns the existing parameter")

	v, err := s.Update("Step Cycle On Pct", 150)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	_, err = s.Update("nope", 1)
	assert.ErrorIs(t, err, ErrUnknownParameter)

	require.Len(t, s.Snapshots(), 1)
	assert.True(t, s.Snapshots()[0].Dirty)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cal", "testboard.json")
	log := zap.NewNop().Sugar()

	s := NewSet()
	length := s.Register("Cycle Length S", 5, 0, 15)
	gain := s.RegisterUnbounded("Gain Speed P", 1.2)
	length.Set(9)
	gain.Set(2.5)

	store := NewFileStore(path, log)
	require.NoError(t, store.SaveAll(s))

	restored := NewSet()
	rLength := restored.Register("Cycle Length S", 5, 0, 15)
	rGain := restored.RegisterUnbounded("Gain Speed P", 1.2)
	require.NoError(t, store.LoadAll(restored))

	assert.Equal(t, 9.0, rLength.Get())
	assert.Equal(t, 2.5, rGain.Get())
	assert.False(t, rLength.Dirty())
}

func TestFileStoreMissingFileKeepsDefaults(t *testing.T) {
	s := NewSet()
	p := s.Register("Cycle Type", 0, 0, 2)
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"), zap.NewNop().Sugar())
	require.NoError(t, store.LoadAll(s))
	assert.Equal(t, 0.0, p.Get())
}

func TestFileStoreClampsAndSkipsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	body := `{"version":1,"values":{"Cycle Type":9,"Retired Param":3}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s := NewSet()
	p := s.Register("Cycle Type", 0, 0, 2)
	require.NoError(t, NewFileStore(path, zap.NewNop().Sugar()).LoadAll(s))
	assert.Equal(t, 2.0, p.Get())
}

func TestFileStoreRejectsBadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":7,"values":{}}`), 0o644))
	err := NewFileStore(path, zap.NewNop().Sugar()).LoadAll(NewSet())
	assert.Error(t, err)
}
