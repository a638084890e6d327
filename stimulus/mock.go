package stimulus

import (
	"context"
	"sync"
)

// Mock is a Panel that records what it is told to do
type Mock struct {
	mu sync.Mutex

	// Err, when not nil, is returned by SetColor
	Err error

	colors     []RGB
	current    RGB
	brightness int
	on         bool
	closes     int
}

// NewMock returns a new Mock with the backlight off
func NewMock() *Mock {
	return &Mock{}
}

// SetColor records c
func (m *Mock) SetColor(ctx context.Context, c RGB) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.colors = append(m.colors, c)
	m.current = c
	return nil
}

// Start turns the mock backlight on
func (m *Mock) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = true
	return nil
}

// SetBrightness records the level
func (m *Mock) SetBrightness(ctx context.Context, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brightness = level
	return nil
}

// Stop turns the mock backlight off
func (m *Mock) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = false
	return nil
}

// Close counts the call
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Closes returns the number of times Close was called
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Current returns the last color set
func (m *Mock) Current() RGB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Colors returns a copy of every color set, in order
func (m *Mock) Colors() []RGB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RGB(nil), m.colors...)
}

// On reports if the backlight is on
func (m *Mock) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Brightness returns the last brightness set
func (m *Mock) Brightness() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.brightness
}
