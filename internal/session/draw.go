package session

import (
	"squeeze-chart/internal/model"
	"squeeze-chart/internal/viewport"
)

// BoxRole tells the renderer how to colour a box.
type BoxRole string

// The first active box (earliest start) is the primary one; any later active
// boxes are secondary.
const (
	RoleActivePrimary BoxRole = "active-primary"
	RoleActive        BoxRole = "active"
	RoleCompleted     BoxRole = "completed"
)

// DrawBox is a box with its rectangle in surface pixels.
type DrawBox struct {
	model.Box
	Role BoxRole `json:"role"`
	X0   float64 `json:"x0"`
	X1   float64 `json:"x1"`
	Y0   float64 `json:"y0"` // upper edge
	Y1   float64 `json:"y1"` // lower edge
}

// DrawSignal is a signal with its marker position.
type DrawSignal struct {
	model.Signal
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawModel is everything a renderer needs to paint one frame. It is a
// snapshot; nothing in it aliases session state.
type DrawModel struct {
	Version uint64 `json:"version"`
	Symbol  string `json:"symbol"`
	Period  string `json:"period"`

	Width      float64          `json:"width"`
	Height     float64          `json:"height"`
	PaneHeight float64          `json:"pane_height"`
	Viewport   model.Viewport   `json:"viewport"`
	Prices     model.PriceRange `json:"prices"`
	Candles    []model.Candle   `json:"candles"`
	PriceTicks []viewport.Tick  `json:"price_ticks"`
	TimeTicks  []viewport.Tick  `json:"time_ticks"`

	Boxes     []DrawBox           `json:"boxes"`
	Signals   []DrawSignal        `json:"signals,omitempty"`
	Crosshair *viewport.Crosshair `json:"crosshair,omitempty"`

	Trades   []model.TradeRecord `json:"trades,omitempty"`
	Position *model.Position     `json:"position,omitempty"`

	Detecting  bool `json:"detecting"`
	SignalsOn  bool `json:"signals_on"`
	Simulating bool `json:"simulating"`
	Animating  bool `json:"animating"`
}

// DrawModel builds the current frame.
func (s *Session) DrawModel() (DrawModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawModelLocked()
}

func (s *Session) drawModelLocked() (DrawModel, error) {
	all := s.store.Snapshot()
	if len(all) == 0 {
		return DrawModel{}, model.ErrEmptyData
	}
	window := s.vp.Visible()
	lo, hi := viewport.VisibleSlice(all, window)
	visible := append([]model.Candle(nil), all[lo:hi]...)

	// An empty window (panned past the data) still gets a price scale from
	// the newest candle.
	priceSrc := visible
	if len(priceSrc) == 0 {
		priceSrc = all[len(all)-1:]
	}
	prices, err := viewport.PriceRangeFor(priceSrc, s.cfg.Viewport.PricePadding)
	if err != nil {
		return DrawModel{}, err
	}
	m, err := s.vp.Mapper(prices)
	if err != nil {
		return DrawModel{}, err
	}
	w, h := s.vp.Size()

	dm := DrawModel{
		Version:    s.version,
		Symbol:     s.cfg.Symbol,
		Period:     s.cfg.Period,
		Width:      w,
		Height:     h,
		PaneHeight: m.Height,
		Viewport:   s.vp.Snapshot(),
		Prices:     prices,
		Candles:    visible,
		PriceTicks: viewport.PriceTicks(m),
		TimeTicks:  viewport.TimeTicks(m),
		Crosshair:  s.vp.Crosshair(m, all),
		Detecting:  s.detecting,
		SignalsOn:  s.signalsOn,
		Simulating: s.simulating,
		Animating:  s.vp.Animating(),
	}

	active := s.tracker.Active()
	for i, b := range active {
		role := RoleActive
		if i == 0 {
			role = RoleActivePrimary
		}
		dm.Boxes = append(dm.Boxes, drawBox(m, b, role))
	}
	for _, b := range s.tracker.Completed() {
		dm.Boxes = append(dm.Boxes, drawBox(m, b, RoleCompleted))
	}

	if s.signalsOn {
		for _, sig := range s.signals {
			dm.Signals = append(dm.Signals, DrawSignal{
				Signal: sig,
				X:      m.ToPixelX(float64(sig.Time)),
				Y:      m.ToPixelY(sig.Price),
			})
		}
	}

	if s.sim != nil {
		dm.Trades = s.sim.History()
		pos := s.sim.Position()
		dm.Position = &pos
	}
	return dm, nil
}

func drawBox(m viewport.Mapper, b model.Box, role BoxRole) DrawBox {
	return DrawBox{
		Box:  b,
		Role: role,
		X0:   m.ToPixelX(float64(b.StartTime)),
		X1:   m.ToPixelX(float64(b.EndTime)),
		Y0:   m.ToPixelY(b.Upper),
		Y1:   m.ToPixelY(b.Lower),
	}
}

// Gestures. Each one takes over from any running animation.

func (s *Session) PanStart(pointer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.OnPanStart(viewport.ParsePointer(pointer))
	s.version++
}

func (s *Session) PanMove(dx float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.OnPanMove(dx)
	s.version++
}

// PanEnd releases a drag; velocity 0 uses the last move.
func (s *Session) PanEnd(velocity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.OnPanEnd(velocity)
	s.version++
}

// Zoom widens (direction > 0) or narrows the window around anchorX.
func (s *Session) Zoom(direction, anchorX float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.Zoom(direction, anchorX)
	s.version++
}

func (s *Session) Hover(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.Hover(x, y)
	s.version++
}

func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.Leave()
	s.version++
}

func (s *Session) Resize(width, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.Resize(width, height)
	s.version++
}

// Viewport returns the current viewport snapshot.
func (s *Session) Viewport() model.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.Snapshot()
}
